package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/morph/message"
)

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	if err := s.Send(ctx, message.Message{Type: message.QuestionDetected, Text: "how so"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, message.Message{Type: message.QuestionDetected, Text: "who"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var m message.Message
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m.Text != "how so" {
		t.Errorf("Text: got %q", m.Text)
	}
}

func TestCallback_NilDiscards(t *testing.T) {
	if err := NewCallback(nil).Send(context.Background(), message.Message{}); err != nil {
		t.Fatal(err)
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, message.Message) error { return f.err }
func (f failing) Close() error                                { return nil }

func TestRouter_FailureDoesNotBlockOthers(t *testing.T) {
	boom := errors.New("boom")
	var got atomic.Int32
	r := NewRouter(nil,
		failing{err: boom},
		NewCallback(func(context.Context, message.Message) error {
			got.Add(1)
			return nil
		}),
	)
	err := r.Send(context.Background(), message.Question("why"))
	if !errors.Is(err, boom) {
		t.Errorf("err: got %v, want boom", err)
	}
	if got.Load() != 1 {
		t.Errorf("second sink: got %d deliveries, want 1", got.Load())
	}
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: %q", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var m message.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.Type != message.QuestionDetected {
			t.Errorf("body: %+v err=%v", m, err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), message.Question("what now")); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), message.Question("who")); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(2), WithWebhookBackoff(time.Millisecond))
	err := w.Send(context.Background(), message.Question("who"))
	if err == nil || !strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("got %v, want exhausted", err)
	}
}
