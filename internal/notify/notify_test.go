package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSimulationError, " "}, discard())

	if err := n.Notify(context.Background(), EventSimulationStopped, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), EventSimulationError, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if s.count() != 1 {
		t.Errorf("sent %d, want 1", s.count())
	}

	all := NewNotifier([]Sender{s}, nil, discard())
	if !all.Allowed("anything") {
		t.Error("empty filter should allow everything")
	}
}

func TestNotifyContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventSimulationError, "t", "m")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if good.count() != 1 {
		t.Error("later sender skipped")
	}
}

func TestStateHook(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSimulationError, EventSimulationStopped}, discard())
	hook := n.StateHook("run-7")

	hook(domain.StateInitializing, domain.StateRunning, nil)
	hook(domain.StateRunning, domain.StateStopping, nil)
	hook(domain.StateRunning, domain.StateError, errors.New("rpc unreachable"))
	n.Wait()

	if s.count() != 1 {
		t.Fatalf("sent %d, want 1", s.count())
	}
	if s.titles[0] != "Simulation failed" || !strings.Contains(s.bodies[0], "run-7") || !strings.Contains(s.bodies[0], "rpc unreachable") {
		t.Errorf("notification = %q / %q", s.titles[0], s.bodies[0])
	}
}

func TestFromConfig(t *testing.T) {
	if n := FromConfig(config.NotifyConfig{}, discard()); n != nil {
		t.Error("notifier built without channels")
	}
	n := FromConfig(config.NotifyConfig{DiscordWebhookURL: "http://x", TelegramToken: "t", TelegramChatID: "c"}, discard())
	if n == nil || len(n.senders) != 2 {
		t.Fatalf("notifier = %+v", n)
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "Title", "body"); err != nil {
		t.Fatal(err)
	}
	if got["content"] != "**Title**\nbody" {
		t.Errorf("content = %q", got["content"])
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["chat_id"] != "42" {
			http.Error(w, "chat not found", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "T", "m"); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" || got["text"] != "*T*\nm" {
		t.Errorf("path=%q payload=%v", path, got)
	}

	s.chatID = "7"
	err := s.Send(context.Background(), "T", "m")
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v", err)
	}
}
