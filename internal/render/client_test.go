package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/semopic/director-api/internal/pipeline"
	"github.com/semopic/director-api/internal/task"
)

func testSubmitRequest() SubmitRequest {
	return SubmitRequest{
		SessionID: "sess-1",
		ImageURLs: []string{"https://cdn.example.com/mug.jpg"},
		Script: pipeline.Script{
			Title: "Morning brew",
			Shots: []pipeline.Shot{{Scene: "kitchen", Action: "pour coffee"}},
		},
		Style: pipeline.StyleChoice{StyleType: "cinematic", DurationSec: 15},
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusTimedOut, true},
		{Status("UNKNOWN"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestStatus_TaskStatus(t *testing.T) {
	tests := []struct {
		status Status
		want   task.Status
	}{
		{StatusQueued, task.StatusPending},
		{StatusProcessing, task.StatusProcessing},
		{StatusCompleted, task.StatusCompleted},
		{StatusFailed, task.StatusFailed},
		{StatusCancelled, task.StatusFailed},
		{StatusTimedOut, task.StatusFailed},
		{Status("SOMETHING_NEW"), task.StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.TaskStatus(); got != tt.want {
				t.Errorf("TaskStatus(%s) = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient("", WithAPIKey("test-key"))
	if err == nil {
		t.Error("expected error for missing base URL")
	}
}

func TestNewClient_WithAPIKeyOption(t *testing.T) {
	client, err := NewClient("https://render.example.com", WithAPIKey("explicit-api-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.apiKey != "explicit-api-key" {
		t.Errorf("expected apiKey to be 'explicit-api-key', got '%s'", client.apiKey)
	}
}

func TestSubmit_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/renders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var body renderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.SessionID != "sess-1" {
			t.Errorf("expected session_id sess-1, got %q", body.SessionID)
		}
		if len(body.Script.Shots) != 1 {
			t.Errorf("expected 1 shot, got %d", len(body.Script.Shots))
		}

		_ = json.NewEncoder(w).Encode(renderResponse{TaskID: "job-123", Status: "IN_QUEUE"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := client.Submit(context.Background(), testSubmitRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TaskID != "job-123" {
		t.Errorf("expected task ID 'job-123', got %q", result.TaskID)
	}
	if result.Status != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, result.Status)
	}
}

func TestSubmit_FastPathCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(renderResponse{
			TaskID: "job-fast",
			Status: "COMPLETED",
			Output: renderOutput{
				VideoURL:     "https://cdn.example.com/out.mp4",
				ThumbnailURL: "https://cdn.example.com/out.jpg",
			},
		})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	result, err := client.Submit(context.Background(), testSubmitRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Status.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", result.Status)
	}
	if result.VideoURL != "https://cdn.example.com/out.mp4" {
		t.Errorf("unexpected video URL %q", result.VideoURL)
	}
	if result.ThumbnailURL != "https://cdn.example.com/out.jpg" {
		t.Errorf("unexpected thumbnail URL %q", result.ThumbnailURL)
	}
}

func TestSubmit_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(renderResponse{Error: "invalid style"})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	_, err := client.Submit(context.Background(), testSubmitRequest())
	if err == nil {
		t.Fatal("expected error for submit failure")
	}
}

func TestSubmit_NoTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(renderResponse{})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	_, err := client.Submit(context.Background(), testSubmitRequest())
	if err != ErrNoTaskIDReturned {
		t.Errorf("expected ErrNoTaskIDReturned, got %v", err)
	}
}

func TestPoll_Processing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/renders/job-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(statusResponse{
			TaskID:   "job-123",
			Status:   "IN_PROGRESS",
			Progress: 42,
		})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	result, err := client.Poll(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusProcessing {
		t.Errorf("expected %s, got %s", StatusProcessing, result.Status)
	}
	if result.Progress != 42 {
		t.Errorf("expected progress 42, got %d", result.Progress)
	}
}

func TestPoll_Completed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(statusResponse{
			TaskID: "job-123",
			Status: "COMPLETED",
			Output: renderOutput{VideoURL: "https://cdn.example.com/out.mp4"},
		})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	result, err := client.Poll(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected %s, got %s", StatusCompleted, result.Status)
	}
	if result.VideoURL == "" {
		t.Error("expected video URL on completion")
	}
}

func TestPoll_Failed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(statusResponse{
			TaskID: "job-123",
			Status: "FAILED",
			Error:  "GPU out of memory",
		})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	result, err := client.Poll(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected %s, got %s", StatusFailed, result.Status)
	}
	if result.Error != "GPU out of memory" {
		t.Errorf("unexpected error message %q", result.Error)
	}
}

func TestPoll_EmptyTaskID(t *testing.T) {
	client, _ := NewClient("https://render.example.com", WithAPIKey("test-key"))

	_, err := client.Poll(context.Background(), "")
	if err != ErrTaskIDRequired {
		t.Errorf("expected ErrTaskIDRequired, got %v", err)
	}
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{TaskID: "job-123", Status: "RUNNING"})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithAPIKey("test-key"),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)

	result, err := client.Poll(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusProcessing {
		t.Errorf("expected %s, got %s", StatusProcessing, result.Status)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithAPIKey("test-key"),
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)

	_, err := client.Poll(context.Background(), "job-123")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithAPIKey("test-key"),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)

	_, err := client.Poll(context.Background(), "job-123")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}
