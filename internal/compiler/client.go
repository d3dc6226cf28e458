// Package compiler talks to the external LaTeX compile service.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is the body for POST /compile.
type Request struct {
	Files        map[string]string `json:"files"`
	MainTexPath  string            `json:"main_tex_path"`
	Driver       string            `json:"driver,omitempty"`
	Bibtex       bool              `json:"bibtex,omitempty"`
	DataPackages []string          `json:"data_packages,omitempty"`
}

// Validate checks the fields the compile service requires.
func (r *Request) Validate() error {
	if r.MainTexPath == "" {
		return fmt.Errorf("main_tex_path is required")
	}
	if _, ok := r.Files[r.MainTexPath]; !ok {
		return fmt.Errorf("main_tex_path %q not among files", r.MainTexPath)
	}
	return nil
}

// LogEntry is one line of compiler output.
type LogEntry struct {
	Log string `json:"log"`
}

// Result is what the compile service returns. PDF and SyncTeX are
// base64-encoded in JSON; SyncTeX is gzip-compressed and may be empty.
type Result struct {
	PDF      []byte     `json:"pdf"`
	ExitCode int        `json:"exit_code"`
	Logs     []LogEntry `json:"logs"`
	SyncTeX  []byte     `json:"synctex"`
}

// Succeeded reports whether the compiler exited cleanly.
func (r *Result) Succeeded() bool { return r.ExitCode == 0 }

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Client communicates with the compile service HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Compile submits a project and waits for its result. A nonzero exit code
// is not an error; the caller inspects Result.ExitCode.
func (c *Client) Compile(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("compile status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
