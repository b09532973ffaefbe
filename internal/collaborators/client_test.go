package collaborators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientProduceScript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/script" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req ScriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Title != "Launch" || req.TargetDuration != 45 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":              "  Welcome to the launch. ",
			"scene_hint":        "stage",
			"duration_estimate": 45,
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/", APIKey: "secret"})
	script, err := client.ProduceScript(context.Background(), ScriptRequest{Title: "Launch", TargetDuration: 45})
	if err != nil {
		t.Fatalf("ProduceScript returned error: %v", err)
	}
	if script.Text != "Welcome to the launch." || script.DurationEstimate != 45 {
		t.Fatalf("unexpected script: %+v", script)
	}
}

func TestClientOverrideEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/custom/render" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"clip_ref": "/clips/a.mp4", "duration": 4.5})
	}))
	defer server.Close()

	client := NewClient(Config{RenderURL: server.URL + "/custom/render"})
	clip, err := client.Render(context.Background(), RenderRequest{ImageRef: "i", AudioRef: "a"})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if clip.Ref != "/clips/a.mp4" || clip.Duration != 4.5 {
		t.Fatalf("unexpected clip: %+v", clip)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"audio_ref": "/audio/x.wav", "duration": 3})
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{BaseURL: server.URL, RetryAttempts: 3},
		WithRetryBackoff(10*time.Millisecond, 40*time.Millisecond),
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)
	audio, err := client.Synthesize(context.Background(), SpeechRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if audio.Ref != "/audio/x.wav" {
		t.Fatalf("unexpected audio: %+v", audio)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(slept) != 2 || slept[0] != 10*time.Millisecond || slept[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff sequence: %v", slept)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RetryAttempts: 5}, WithSleeper(func(time.Duration) {}))
	_, err := client.ProduceImage(context.Background(), ImageRequest{SceneDescription: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "http 400") {
		t.Fatalf("expected status in error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestClientEmptyResultFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"image_ref": ""})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RetryAttempts: 2}, WithSleeper(func(time.Duration) {}))
	_, err := client.ProduceImage(context.Background(), ImageRequest{})
	if !IsEmptyResult(err) {
		t.Fatalf("expected empty result error, got %v", err)
	}
}

func TestClientDialogueDropsBlankTurns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"lines": []map[string]string{
			{"actor": "Alice", "text": "Hello"},
			{"actor": "Bob", "text": "  "},
			{"actor": " Bob ", "text": "Hi"},
		}})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	turns, err := client.ProduceDialogue(context.Background(), DialogueRequest{Topic: "x", LineCount: 3})
	if err != nil {
		t.Fatalf("ProduceDialogue returned error: %v", err)
	}
	if len(turns) != 2 || turns[1].Actor != "Bob" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestClientMissingEndpoint(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.ProduceScript(context.Background(), ScriptRequest{}); err == nil || !strings.Contains(err.Error(), "no endpoint") {
		t.Fatalf("expected missing endpoint error, got %v", err)
	}
}

func TestClientHonoursContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	client := NewClient(Config{BaseURL: server.URL, RetryAttempts: 3})
	if _, err := client.Render(ctx, RenderRequest{}); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("7"); !ok || d != 7*time.Second {
		t.Fatalf("unexpected parse: %v %v", d, ok)
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("expected invalid value to be rejected")
	}
}
