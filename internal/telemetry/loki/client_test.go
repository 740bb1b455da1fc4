package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func captureServer(t *testing.T, status int, got *PushRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q, want /loki/api/v1/push", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("Decode: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)

	raw := []byte(`{"event_type":"verification.code.submitted","source":"relay","task_id":"t1","outcome":"accepted","created_at":"2026-05-01T08:00:00Z"}`)
	if err := NewClient(srv.URL + "/").PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}

	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	want := map[string]string{
		"job":        DefaultJob,
		"event_type": "verification.code.submitted",
		"source":     "relay",
		"outcome":    "accepted",
	}
	for k, v := range want {
		if s.Stream[k] != v {
			t.Errorf("label %s = %q, want %q", k, s.Stream[k], v)
		}
	}
	if _, ok := s.Stream["task_id"]; ok {
		t.Error("task_id must not become a label")
	}
	wantTS := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC).UnixNano()
	if s.Values[0][0] != strconv.FormatInt(wantTS, 10) {
		t.Errorf("timestamp = %q, want %d", s.Values[0][0], wantTS)
	}
	if s.Values[0][1] != string(raw) {
		t.Errorf("line = %q, want raw event", s.Values[0][1])
	}
}

func TestPushEventJSON_InvalidJSONPushesRaw(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)

	if err := NewClient(srv.URL).PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if len(s.Stream) != 1 || s.Stream["job"] != DefaultJob {
		t.Errorf("labels = %v, want only job", s.Stream)
	}
	if s.Values[0][1] != "not json" {
		t.Errorf("line = %q", s.Values[0][1])
	}
}

func TestPushEvent_SanitizesLabels(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)
	c := NewClient(srv.URL)
	c.Job = "custom"

	err := c.PushEvent(context.Background(), time.Now(), "line", map[string]string{"outcome": "bad value/x", "empty": "  "})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	s := got.Streams[0]
	if s.Stream["job"] != "custom" {
		t.Errorf("job = %q, want custom", s.Stream["job"])
	}
	if s.Stream["outcome"] != "bad_value_x" {
		t.Errorf("outcome = %q, want bad_value_x", s.Stream["outcome"])
	}
	if _, ok := s.Stream["empty"]; ok {
		t.Error("empty label should be dropped")
	}
}

func TestPushEvent_Errors(t *testing.T) {
	if err := (&Client{}).PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("empty base URL should fail")
	}

	var got PushRequest
	srv := captureServer(t, http.StatusBadRequest, &got)
	err := NewClient(srv.URL).PushEvent(context.Background(), time.Now(), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "status=400") {
		t.Errorf("err = %v, want status=400", err)
	}
}
