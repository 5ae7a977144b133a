// Package httpapi is the internal operations surface: worker status,
// backfill control, repair-job enqueue, and queue purges. It is not the
// public/ingest API — that surface is out of scope here — just the small
// hand-routed chi API the rest of the repo (dashboards, on-call tooling)
// talks to.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/fingerprint"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/queue"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/session"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/workers"
)

// WorkerStatuses is the subset of running workers the status endpoint
// reports on; fields are nil-able so a partially-wired process (e.g. in
// tests) still serves a valid response.
type WorkerStatuses struct {
	Lifecycle   *workers.LifecycleWorker
	SessionSync *workers.SessionSyncWorker
}

// QueueInspector is the queue.Store subset the ops surface needs.
type QueueInspector interface {
	Stats(ctx context.Context, queueName string) (map[queue.Status]int, error)
	Purge(ctx context.Context, queueName string) (int, error)
}

// RepairEnqueuer is the RepairJobStore subset the ops surface needs.
type RepairEnqueuer interface {
	Enqueue(ctx context.Context, cohortQuery string) (uuid.UUID, error)
}

// Server wires every ops dependency into a chi.Router.
type Server struct {
	workers       WorkerStatuses
	queues        QueueInspector
	repairs       RepairEnqueuer
	batcher       *session.Batcher
	fingerprints  *fingerprint.Engine
	repairQueries fingerprint.RepairQueries
	log           logr.Logger
}

func NewServer(w WorkerStatuses, queues QueueInspector, repairs RepairEnqueuer, batcher *session.Batcher, fingerprints *fingerprint.Engine, repairQueries fingerprint.RepairQueries, log logr.Logger) *Server {
	return &Server{
		workers: w, queues: queues, repairs: repairs, batcher: batcher,
		fingerprints: fingerprints, repairQueries: repairQueries,
		log: log.WithValues("component", "httpapi"),
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/workers/status", s.handleWorkerStatus)
		r.Post("/repair-jobs", s.handleEnqueueRepair)
		r.Post("/sessions/build", s.handleBuildSessions)
		r.Post("/backfill/{kind}", s.handleBackfill)
		r.Get("/queues/{name}/stats", s.handleQueueStats)
		r.Post("/queues/{name}/purge", s.handleQueuePurge)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.workers.Lifecycle != nil {
		out["lifecycle_event"] = s.workers.Lifecycle.Status()
	}
	if s.workers.SessionSync != nil {
		out["session_sync"] = s.workers.SessionSync.Status()
	}
	writeJSON(w, http.StatusOK, out)
}

type enqueueRepairRequest struct {
	CohortQuery string `json:"cohort_query"`
}

func (s *Server) handleEnqueueRepair(w http.ResponseWriter, r *http.Request) {
	var req enqueueRepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	id, err := s.repairs.Enqueue(r.Context(), req.CohortQuery)
	if err != nil {
		s.log.Error(err, "enqueue repair job failed", "cohort_query", req.CohortQuery)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

type buildSessionsRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	StationType *string   `json:"station_type"`
	DryRun      bool      `json:"dry_run"`
}

func (s *Server) handleBuildSessions(w http.ResponseWriter, r *http.Request) {
	var req buildSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	opts := session.Options{DryRun: req.DryRun}
	if req.StationType != nil {
		st := shipmentStationType(*req.StationType)
		opts.StationType = &st
	}

	result, err := s.batcher.BuildSessions(r.Context(), req.UserID, opts)
	if err != nil {
		s.log.Error(err, "build sessions failed", "user_id", req.UserID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type backfillRequest struct {
	Limit int `json:"limit"`
}

// handleBackfill drives one of the ancillary fingerprint repairs over
// HTTP: needs_recalc, unexploded kits, unsubstituted variants, or
// shipments stuck missing weight data.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	var req backfillRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	var (
		result *fingerprint.BackfillResult
		err    error
	)
	switch kind {
	case "needs_recalc":
		result, err = s.fingerprints.BackfillFingerprints(r.Context(), s.repairQueries, req.Limit)
	case "unexploded_kits":
		result, err = s.fingerprints.RepairUnexplodedKits(r.Context(), s.repairQueries, req.Limit)
	case "unsubstituted_variants":
		result, err = s.fingerprints.RepairUnsubstitutedVariants(r.Context(), s.repairQueries, req.Limit)
	case "missing_weight":
		result, err = s.fingerprints.RepairMissingWeightShipments(r.Context(), s.repairQueries, req.Limit)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown backfill kind"})
		return
	}
	if err != nil {
		s.log.Error(err, "backfill failed", "kind", kind)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, err := s.queues.Stats(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueuePurge(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n, err := s.queues.Purge(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// shipmentStationType adapts a request's plain-string station type to the
// shipment package's named type. The value is not checked against the
// known constants; an unknown value simply matches no candidates.
func shipmentStationType(s string) shipment.StationType {
	return shipment.StationType(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
