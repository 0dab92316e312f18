package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"actionboard/internal/config"
	"actionboard/internal/domain"
)

type fakeFeed struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeFeed) add(evt domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt.ID = int64(len(f.events) + 1)
	f.events = append(f.events, evt)
}

func (f *fakeFeed) EventsAfter(_ context.Context, limit int, cursor int64, _ string) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []domain.Event
	for _, evt := range f.events {
		if evt.ID > cursor && len(res) < limit {
			res = append(res, evt)
		}
	}
	return res, nil
}

func (f *fakeFeed) LatestEventID(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.events)), nil
}

type hookRecorder struct {
	mu       sync.Mutex
	received []webhookEvent
	headers  []http.Header
	fail     bool
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		http.Error(w, "nope", http.StatusBadGateway)
		return
	}
	data, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	h.received = append(h.received, evt)
	h.headers = append(h.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestWebhookDeliversNewMatchingEvents(t *testing.T) {
	feed := &fakeFeed{}
	feed.add(domain.Event{Type: "onboarding.committed", OrgID: "org-old", Payload: `{"org":"old"}`})

	rec := &hookRecorder{}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	d := NewWebhookDispatcher(feed, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"onboarding.committed"},
		Secret: "s3cret",
	}}, nil)
	ctx := context.Background()
	d.DispatchAll(ctx)
	if n := rec.count(); n != 0 {
		t.Fatalf("expected no delivery of pre-existing events, got %d", n)
	}

	feed.add(domain.Event{Type: "other.event", OrgID: "org-1"})
	feed.add(domain.Event{Type: "onboarding.committed", OrgID: "org-1", Payload: `{"selected":12}`})
	d.DispatchAll(ctx)
	if n := rec.count(); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	got := rec.received[0]
	if got.ID != 3 || got.OrgID != "org-1" || string(got.Payload) != `{"selected":12}` {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if rec.headers[0].Get("X-Actionboard-Secret") != "s3cret" || rec.headers[0].Get("X-Actionboard-Event") != "onboarding.committed" {
		t.Fatalf("unexpected headers: %v", rec.headers[0])
	}

	d.DispatchAll(ctx)
	if n := rec.count(); n != 1 {
		t.Fatalf("expected no redelivery, got %d", n)
	}
}

func TestWebhookRetriesAfterFailure(t *testing.T) {
	feed := &fakeFeed{}
	rec := &hookRecorder{fail: true}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	d := NewWebhookDispatcher(feed, []config.WebhookConfig{{URL: hook.URL}}, nil)
	ctx := context.Background()
	d.DispatchAll(ctx)
	feed.add(domain.Event{Type: "onboarding.committed", OrgID: "org-1"})
	d.DispatchAll(ctx)
	if n := rec.count(); n != 0 {
		t.Fatalf("expected failed delivery, got %d", n)
	}

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()
	d.DispatchAll(ctx)
	if n := rec.count(); n != 1 {
		t.Fatalf("expected redelivery after failure, got %d", n)
	}
}

func TestWebhookSkipsDisabledHooks(t *testing.T) {
	feed := &fakeFeed{}
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec)
	defer hook.Close()
	disabled := false

	d := NewWebhookDispatcher(feed, []config.WebhookConfig{{URL: hook.URL, Enabled: &disabled}}, nil)
	d.DispatchAll(context.Background())
	feed.add(domain.Event{Type: "onboarding.committed"})
	d.DispatchAll(context.Background())
	if n := rec.count(); n != 0 {
		t.Fatalf("expected no deliveries to disabled hook, got %d", n)
	}
}
