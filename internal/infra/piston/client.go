// Package piston wraps the remote code-execution sandbox API (Piston).
package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// DefaultRunTimeout is the execution cap requested from the sandbox, in
// milliseconds.
const DefaultRunTimeout = 3000

// Client errors. ErrTimeout is distinguishable from other upstream failures
// so callers can report it differently.
var (
	ErrTimeout     = errors.New("piston: execution timed out")
	ErrUnavailable = errors.New("piston: execution service unavailable")
)

// Client calls a Piston-compatible execution API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	runTimeout int
}

// NewClient creates a Client. runTimeoutMs bounds the remote execution time;
// the HTTP timeout is set slightly above it so the remote cap fires first.
func NewClient(baseURL string, runTimeoutMs int) *Client {
	if baseURL == "" {
		baseURL = "https://emkc.org/api/v2/piston"
	}
	if runTimeoutMs <= 0 {
		runTimeoutMs = DefaultRunTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "piston",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Execution breaker state changed")
		},
	})

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(runTimeoutMs)*time.Millisecond + 5*time.Second,
		},
		breaker:    breaker,
		runTimeout: runTimeoutMs,
	}
}

type executeRequest struct {
	Language   string        `json:"language"`
	Version    string        `json:"version"`
	Files      []executeFile `json:"files"`
	Stdin      string        `json:"stdin"`
	Args       []string      `json:"args"`
	RunTimeout int           `json:"run_timeout"`
}

type executeFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type executeResponse struct {
	Run struct {
		Output string `json:"output"`
		Code   *int   `json:"code"`
		Signal string `json:"signal"`
	} `json:"run"`
	Message string `json:"message"`
}

// Execute submits source code for remote execution and returns the combined
// stdout/stderr output.
func (c *Client) Execute(ctx context.Context, language, source string) (string, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"component": "piston",
		"language":  language,
	})

	output, err := c.breaker.Execute(func() (string, error) {
		return c.execute(ctx, language, source)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logCtx.WithError(err).Warn("Execution rejected by open breaker")
			return "", ErrUnavailable
		}
		logCtx.WithError(err).Warn("Code execution failed")
		return "", err
	}
	return output, nil
}

func (c *Client) execute(ctx context.Context, language, source string) (string, error) {
	reqBody := executeRequest{
		Language:   language,
		Version:    "*",
		Files:      []executeFile{{Name: "any.file", Content: source}},
		Stdin:      "",
		Args:       []string{},
		RunTimeout: c.runTimeout,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("piston: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("piston: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("piston: execute request: %w", err)
	}
	defer resp.Body.Close()

	var result executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("piston: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Message != "" {
			return "", fmt.Errorf("piston: execute failed (%d): %s", resp.StatusCode, result.Message)
		}
		return "", fmt.Errorf("piston: execute failed with status %d", resp.StatusCode)
	}
	// The sandbox reports its own run_timeout kills via SIGKILL.
	if result.Run.Signal == "SIGKILL" {
		return "", ErrTimeout
	}
	return result.Run.Output, nil
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
