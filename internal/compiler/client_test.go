package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompile_Success(t *testing.T) {
	var gotAuth string
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/compile" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(Result{
			PDF:      []byte("%PDF-"),
			ExitCode: 0,
			Logs:     []LogEntry{{Log: "ok"}},
			SyncTeX:  []byte{0x1f, 0x8b},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", 0)
	defer c.Close()
	res, err := c.Compile(context.Background(), Request{
		Files:       map[string]string{"main.tex": `\documentclass{article}`},
		MainTexPath: "main.tex",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.MainTexPath != "main.tex" {
		t.Errorf("expected main.tex in request, got %q", gotReq.MainTexPath)
	}
	if !res.Succeeded() || string(res.PDF) != "%PDF-" || len(res.SyncTeX) != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Logs) != 1 || res.Logs[0].Log != "ok" {
		t.Errorf("unexpected logs %+v", res.Logs)
	}
}

func TestCompile_Retryable(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", status)
		}))
		c := NewClient(srv.URL, "", 0)
		_, err := c.Compile(context.Background(), Request{})
		srv.Close()

		var re *RetryableError
		if !errors.As(err, &re) {
			t.Fatalf("status %d: expected RetryableError, got %v", status, err)
		}
		if re.StatusCode != status {
			t.Errorf("expected status %d, got %d", status, re.StatusCode)
		}
	}
}

func TestCompile_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad project", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 0).Compile(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	var re *RetryableError
	if errors.As(err, &re) {
		t.Error("expected 400 not to be retryable")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestResult_JSONBase64(t *testing.T) {
	var r Result
	if err := json.Unmarshal([]byte(`{"pdf":"JVBERi0=","exit_code":1,"logs":[],"synctex":""}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(r.PDF) != "%PDF-" {
		t.Errorf("expected decoded pdf bytes, got %q", r.PDF)
	}
	if r.Succeeded() {
		t.Error("expected exit code 1 to be a failure")
	}
	if len(r.SyncTeX) != 0 {
		t.Errorf("expected empty synctex, got %d bytes", len(r.SyncTeX))
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"ok", Request{Files: map[string]string{"a.tex": ""}, MainTexPath: "a.tex"}, false},
		{"missing main", Request{Files: map[string]string{"a.tex": ""}}, true},
		{"main not in files", Request{Files: map[string]string{"a.tex": ""}, MainTexPath: "b.tex"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("expected abc..., got %q", got)
	}
}
