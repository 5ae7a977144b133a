package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// DocStoreClient is the concrete SessionDocumentStore: an HTTP client
// against the external document store that owns pick/session state,
// traced with otelhttp so its latency shows up alongside the label
// provider's in the same trace.
type DocStoreClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewDocStoreClient(baseURL, apiKey string, timeout time.Duration) *DocStoreClient {
	return &DocStoreClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type sessionWire struct {
	SessionID          string     `json:"session_id"`
	SessionStatus      string     `json:"session_status"`
	OrderNumber        string     `json:"order_number"`
	ExternalShipmentID string     `json:"external_shipment_id"`
	PickStart          *time.Time `json:"pick_start"`
	PickEnd            *time.Time `json:"pick_end"`
	SpotNumber         *int       `json:"spot_number"`
	PickerID           *string    `json:"picker_id"`
	PickerName         *string    `json:"picker_name"`
	DocumentID         string     `json:"document_id"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (w sessionWire) toSession() ExternalSession {
	return ExternalSession{
		SessionID: w.SessionID, SessionStatus: shipment.SessionStatus(strings.ToLower(w.SessionStatus)),
		OrderNumber: w.OrderNumber, ExternalShipmentID: w.ExternalShipmentID,
		PickStart: w.PickStart, PickEnd: w.PickEnd, SpotNumber: w.SpotNumber,
		PickerID: w.PickerID, PickerName: w.PickerName, DocumentID: w.DocumentID,
		UpdatedAt: w.UpdatedAt,
	}
}

func (c *DocStoreClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "document store request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.RateLimited, "document store rate limited the request")
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.Transient, "document store returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "read document store response")
	}
	return body, nil
}

// FetchNonClosedSessions lists every session the document store still
// considers active (not status=closed), the comparison set the sync
// worker diffs its locally cached sessionStatus=non-closed shipments
// against to detect closed-transitions.
func (c *DocStoreClient) FetchNonClosedSessions(ctx context.Context) ([]ExternalSession, error) {
	body, err := c.get(ctx, "/v1/sessions", url.Values{"status": {"non_closed"}})
	if err != nil {
		return nil, err
	}
	var wire []sessionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "decode non-closed sessions response")
	}
	out := make([]ExternalSession, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toSession())
	}
	return out, nil
}

// FetchSession re-reads a single session document by id, used to confirm a
// closed-transition before writing it locally.
func (c *DocStoreClient) FetchSession(ctx context.Context, sessionID string) (*ExternalSession, error) {
	body, err := c.get(ctx, fmt.Sprintf("/v1/sessions/%s", sessionID), nil)
	if err != nil {
		return nil, err
	}
	var wire sessionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "decode session response")
	}
	s := wire.toSession()
	return &s, nil
}

// FetchSessionsSince pages through every session updated at or after since,
// bounded to limit rows, for the periodic reimport sweep that catches
// updates the streaming poll missed.
func (c *DocStoreClient) FetchSessionsSince(ctx context.Context, since time.Time, limit int) ([]ExternalSession, error) {
	body, err := c.get(ctx, "/v1/sessions", url.Values{
		"updated_since": {since.UTC().Format(time.RFC3339)},
		"limit":         {fmt.Sprintf("%d", limit)},
	})
	if err != nil {
		return nil, err
	}
	var wire []sessionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "decode reimport sessions response")
	}
	out := make([]ExternalSession, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toSession())
	}
	return out, nil
}
