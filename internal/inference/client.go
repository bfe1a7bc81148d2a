package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gridleaf/cellgauge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var (
	ErrUnavailable = errors.New("inference_unavailable")
	ErrJobNotFound = errors.New("inference_job_not_found")
)

// TriggerRequest carries the analysis parameters forwarded to the
// inference backend.
type TriggerRequest struct {
	DeviceID string         `json:"device_id"`
	Params   map[string]any `json:"params,omitempty"`
}

type JobStatus struct {
	State         string `json:"state"`
	ResultRef     string `json:"result_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Client talks to the anomaly-report inference backend. Trigger starts
// a job, Status polls it.
type Client interface {
	Trigger(ctx context.Context, req TriggerRequest) (string, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type client struct {
	baseURL       string
	serviceSecret []byte
	httpClient    *http.Client
	log           *zap.Logger
}

func New(p Params) Client {
	timeout := p.Cfg.Inference.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		baseURL:       strings.TrimRight(p.Cfg.Inference.BaseURL, "/"),
		serviceSecret: []byte(p.Cfg.Inference.ServiceSecret),
		httpClient:    &http.Client{Timeout: timeout},
		log:           p.Log.Named("inference.client"),
	}
}

type triggerResponse struct {
	JobID string `json:"job_id"`
}

func (c *client) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", fmt.Errorf("%w: empty device id", ErrUnavailable)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	raw, status, err := c.do(ctx, http.MethodPost, "/v1/jobs", body)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		c.log.Warn("inference trigger rejected", zap.Int("status", status), zap.ByteString("body", raw))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}

	var parsed triggerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(parsed.JobID) == "" {
		return "", fmt.Errorf("%w: empty job id", ErrUnavailable)
	}
	return parsed.JobID, nil
}

func (c *client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, ErrJobNotFound
	}

	raw, status, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil)
	if err != nil {
		return JobStatus{}, err
	}
	if status == http.StatusNotFound {
		return JobStatus{}, ErrJobNotFound
	}
	if status < 200 || status >= 300 {
		return JobStatus{}, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}

	var parsed JobStatus
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return JobStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch parsed.State {
	case StateRunning, StateCompleted, StateFailed:
	default:
		return JobStatus{}, fmt.Errorf("%w: unknown state %q", ErrUnavailable, parsed.State)
	}
	return parsed, nil
}

func (c *client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.serviceToken()
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return raw, resp.StatusCode, nil
}

// serviceToken mints a short-lived HS256 token for service-to-service
// calls.
func (c *client) serviceToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": "cellgauge-api",
		"aud": "cellgauge-inference",
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.serviceSecret)
}
