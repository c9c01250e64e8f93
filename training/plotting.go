package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CurvePoint is one (epoch, value) observation appended to a named curve on
// the plotting sidecar, mirroring a line-update call.
type CurvePoint struct {
	Window string  `json:"window"` // plot window, e.g. "loss", "metrics_total_dice"
	Series string  `json:"series"` // e.g. "training", "validation"
	Epoch  int     `json:"epoch"`
	Value  float64 `json:"value"`
}

// PlotSink receives training curves. Implementations return an error value
// instead of failing the caller; the trainer logs and discards it, so a
// flaky visualization backend never aborts an epoch.
type PlotSink interface {
	Publish(point CurvePoint) error
}

// PlotSinkConfig contains configuration for the HTTP plotting sink.
type PlotSinkConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultPlotSinkConfig returns the default sidecar endpoint configuration.
func DefaultPlotSinkConfig() PlotSinkConfig {
	return PlotSinkConfig{
		BaseURL: "http://localhost:8097",
		Timeout: 5 * time.Second,
	}
}

// HTTPPlotSink posts curve points to a sidecar plotting service.
type HTTPPlotSink struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPPlotSink creates a plotting sink client.
func NewHTTPPlotSink(config PlotSinkConfig) *HTTPPlotSink {
	return &HTTPPlotSink{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Publish sends one curve point. Any transport or service failure is
// reported as the return value only.
func (s *HTTPPlotSink) Publish(point CurvePoint) error {
	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to marshal plot point: %w", err)
	}

	resp, err := s.httpClient.Post(s.baseURL+"/api/curves", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to send plot point: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plotting service returned status %d", resp.StatusCode)
	}
	return nil
}

// NopPlotSink discards every point, for runs without a plotting sidecar.
type NopPlotSink struct{}

// Publish implements PlotSink.
func (NopPlotSink) Publish(CurvePoint) error {
	return nil
}
