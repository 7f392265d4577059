package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/metrics"
	"go.uber.org/zap"
)

// ErrNoRun is returned when points are sent before a run was created.
var ErrNoRun = errors.New("dashboard run not created")

// StatusError is a non-2xx response from the dashboard service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dashboard returned %d: %s", e.Code, e.Body)
}

// DashboardConfig describes how to reach the dashboard service.
type DashboardConfig struct {
	Endpoint      string
	Token         string
	Project       string
	Name          string
	Timeout       time.Duration
	MaxTries      uint
	RetryInterval time.Duration
}

// Dashboard sends batches to the remote dashboard service as JSON over
// HTTP. Server errors and transport failures are retried with exponential
// backoff; client errors are not.
type Dashboard struct {
	cfg    DashboardConfig
	client *http.Client
	runID  string
}

type runRequest struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	Name    string `json:"name,omitempty"`
}

type pointsRequest struct {
	Step   int64                        `json:"step"`
	Time   time.Time                    `json:"time"`
	Values *metrics.Flat[metrics.Value] `json:"values"`
}

type attributeRequest struct {
	Value string `json:"value"`
}

// NewDashboard returns a client for cfg. No request is made until
// CreateRun.
func NewDashboard(cfg DashboardConfig) (*Dashboard, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("dashboard endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &Dashboard{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// CreateRun registers a new run under the configured project and returns
// its id.
func (d *Dashboard) CreateRun(ctx context.Context) (string, error) {
	id := uuid.New().String()

	req := runRequest{ID: id, Project: d.cfg.Project, Name: d.cfg.Name}
	if err := d.send(ctx, http.MethodPost, "/api/v1/runs", req); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	d.runID = id
	config.LogInfo(ctx, "dashboard run created",
		zap.String("project", d.cfg.Project), zap.String("dashboard_run", id))
	return id, nil
}

// RunID is the id returned by CreateRun.
func (d *Dashboard) RunID() string {
	return d.runID
}

func (d *Dashboard) Write(ctx context.Context, b Batch) error {
	runID := b.RunID
	if runID == "" {
		runID = d.runID
	}
	if runID == "" {
		return ErrNoRun
	}

	req := pointsRequest{Step: b.Step, Time: b.Time, Values: b.Values}
	path := "/api/v1/runs/" + url.PathEscape(runID) + "/points"
	if err := d.send(ctx, http.MethodPost, path, req); err != nil {
		return fmt.Errorf("send step %d: %w", b.Step, err)
	}
	return nil
}

func (d *Dashboard) SetAttribute(ctx context.Context, runID, key, value string) error {
	if runID == "" {
		return ErrNoRun
	}

	path := "/api/v1/runs/" + url.PathEscape(runID) + "/attributes/" + url.PathEscape(key)
	if err := d.send(ctx, http.MethodPut, path, attributeRequest{Value: value}); err != nil {
		return fmt.Errorf("set attribute %s: %w", key, err)
	}
	return nil
}

func (d *Dashboard) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *Dashboard) send(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInterval

	operation := func() (struct{}, error) {
		return struct{}{}, d.do(ctx, method, path, payload)
	}
	notify := func(err error, wait time.Duration) {
		config.LogWarn(ctx, "dashboard request failed, retrying",
			zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxTries),
		backoff.WithNotify(notify),
	)
	return err
}

func (d *Dashboard) do(ctx context.Context, method, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	if cid := config.GetContextCorrelationId(ctx); cid != "" {
		req.Header.Set("X-Correlation-Id", cid)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return statusErr
	}
	return backoff.Permanent(statusErr)
}
