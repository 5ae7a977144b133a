package ratecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/coordinator"
)

// LabelProviderClient is the concrete RateProvider: an HTTP client against
// the label provider's rate-shopping endpoint, traced with otelhttp and
// wrapped in a circuit breaker so a provider outage degrades the whole
// worker fleet rather than retrying into it job by job.
type LabelProviderClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *coordinator.LabelProviderBreaker
}

func NewLabelProviderClient(baseURL, apiKey string, timeout time.Duration, breaker *coordinator.LabelProviderBreaker) *LabelProviderClient {
	return &LabelProviderClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
	}
}

type candidateRateWire struct {
	ServiceCode      string   `json:"service_code"`
	Cost             *float64 `json:"cost"`
	DeliveryDays     *int     `json:"delivery_days"`
	WeightLimitMinOz *float64 `json:"weight_limit_min_oz"`
	WeightLimitMaxOz *float64 `json:"weight_limit_max_oz"`
}

// FetchCandidateRates calls the label provider's rate-shopping endpoint
// for one external shipment id, routed through the circuit breaker so
// repeated failures trip it and later calls fail fast instead of
// hammering an unhealthy provider. The breaker itself broadcasts nothing.
func (c *LabelProviderClient) FetchCandidateRates(ctx context.Context, externalShipmentID string) ([]Candidate, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doFetch(ctx, externalShipmentID)
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "fetch candidate rates")
	}
	return result.([]Candidate), nil
}

func (c *LabelProviderClient) doFetch(ctx context.Context, externalShipmentID string) ([]Candidate, error) {
	url := fmt.Sprintf("%s/v1/shipments/%s/rates", c.baseURL, externalShipmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.RateLimited, "label provider rate limited the rate-shopping request")
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.Transient, "label provider returned status %d", resp.StatusCode)
	}

	var wire []candidateRateWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "decode candidate rates response")
	}

	out := make([]Candidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, Candidate{
			ServiceCode: w.ServiceCode, Cost: w.Cost, DeliveryDays: w.DeliveryDays,
			WeightLimitMinOz: w.WeightLimitMinOz, WeightLimitMaxOz: w.WeightLimitMaxOz,
		})
	}
	return out, nil
}
