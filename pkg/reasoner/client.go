// Package reasoner provides the client for the local generative reasoner
// service. The reasoner owns its own retrieval and agent loop; the core
// treats it as one opaque backend.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// Response is the reasoner's answer to one query.
type Response struct {
	Answer      string            `json:"answer"`
	Strategy    string            `json:"strategy"`
	LatencyMS   float64           `json:"latency_ms"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// Client is the local reasoner contract consumed by the orchestrator.
type Client interface {
	// Enabled reports whether the reasoner backend is available for
	// routing at all.
	Enabled() bool
	Process(ctx context.Context, query models.Query) (Response, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// HTTPClient talks JSON over HTTP to the reasoner service.
type HTTPClient struct {
	cfg    config.LocalReasonerConfig
	http   *http.Client
	logger *slog.Logger
}

// New returns the configured client: an HTTP client when the reasoner is
// enabled, otherwise a Disabled stub.
func New(cfg config.LocalReasonerConfig) Client {
	if !cfg.Enabled {
		return Disabled{}
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: slog.With("component", "reasoner"),
	}
}

func (c *HTTPClient) Enabled() bool { return true }

// Process sends the query to POST /process and decodes the answer.
func (c *HTTPClient) Process(ctx context.Context, query models.Query) (Response, error) {
	payload := map[string]any{
		"query":      query.Text,
		"user_id":    query.UserID,
		"session_id": query.SessionID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encoding reasoner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/process", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building reasoner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Response{}, models.Wrap(models.KindTimeout, "reasoner deadline exceeded", err)
		}
		return Response{}, models.Wrap(models.KindBackendUnavailable, "calling reasoner", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return Response{}, models.Ef(models.KindBackendUnavailable,
			"reasoner returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, models.Wrap(models.KindBackendUnavailable, "decoding reasoner response", err)
	}
	if out.LatencyMS == 0 {
		out.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	}
	if out.Strategy == "" {
		out.Strategy = "local"
	}
	c.logger.Debug("Reasoner answered", "strategy", out.Strategy, "latency_ms", out.LatencyMS)
	return out, nil
}

// Stats fetches the reasoner's counters from GET /stats.
func (c *HTTPClient) Stats(ctx context.Context) (map[string]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("building stats request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.Wrap(models.KindBackendUnavailable, "fetching reasoner stats", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.Ef(models.KindBackendUnavailable, "reasoner stats returned HTTP %d", resp.StatusCode)
	}

	var out map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, models.Wrap(models.KindBackendUnavailable, "decoding reasoner stats", err)
	}
	return out, nil
}

// Disabled is the stub used when the local reasoner is turned off; every
// call reports the backend as unavailable so the orchestrator falls back.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Process(context.Context, models.Query) (Response, error) {
	return Response{}, models.E(models.KindBackendUnavailable, "local reasoner is disabled")
}

func (Disabled) Stats(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}
