// Package approval talks to the external approval authority that runs the dual-approval workflow.
package approval

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Policy is the compliance descriptor sent with every submission.
type Policy struct {
	DualApproval     bool     `json:"dual_approval"`
	RequiredRoles    []string `json:"required_roles"`
	MinimumApprovals int      `json:"minimum_approvals"`
}

// SubmitRequest carries document metadata, never the full content.
type SubmitRequest struct {
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Title        string                 `json:"title"`
	SubmittedBy  string                 `json:"submitted_by"`
	Metadata     map[string]interface{} `json:"metadata"`
	Policy       Policy                 `json:"policy"`
}

// SubmitResponse is returned by the authority once a request is accepted.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status,omitempty"`
}

// Config configures the HTTP client.
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// Client submits approval requests over HTTP behind a circuit breaker.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// ErrRejectedByAuthority is returned for non-2xx responses.
var ErrRejectedByAuthority = errors.New("approval authority rejected request")

// NewClient constructs the client with defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger
	failures := uint32(cfg.BreakerFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "approval-authority",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("approval circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		breaker: breaker,
		logger:  logger,
	}
}

// Submit posts a single approval request. It does not retry; callers own retry policy.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SubmitResponse), nil
}

func (c *Client) do(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal approval request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/approvals", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build approval request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post approval request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read approval response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejectedByAuthority, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out SubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode approval response: %w", err)
	}
	if out.RequestID == "" {
		return nil, fmt.Errorf("approval response missing request_id")
	}
	return &out, nil
}
