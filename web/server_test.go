package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"oppsync/config"
	"oppsync/pipeliner"
)

// fakeDispatcher records dispatched events and returns a canned error.
type fakeDispatcher struct {
	events []*pipeliner.Event
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, event *pipeliner.Event) error {
	f.events = append(f.events, event)
	return f.err
}

func setupWebApp(t *testing.T, dispatcher *fakeDispatcher) *WebApp {
	t.Helper()
	cfg := &config.Config{}
	cfg.Web.ListenAddress = "127.0.0.1:0"
	webApp, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, dispatcher)
	if err != nil {
		t.Fatal(err)
	}
	return webApp
}

func TestHandleHealth(t *testing.T) {

	webApp := setupWebApp(t, &fakeDispatcher{})
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("got status %d, want %d", got, want)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if got, want := health.Status, "ok"; got != want {
		t.Errorf("got status %q, want %q", got, want)
	}
	if got, want := health.Mode, "dry-run"; got != want {
		t.Errorf("got mode %q, want %q", got, want)
	}
	if health.Timestamp == "" {
		t.Error("timestamp missing from health response")
	}
}

func TestHandleWebhook(t *testing.T) {

	dispatcher := &fakeDispatcher{}
	webApp := setupWebApp(t, dispatcher)
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	body := `{"entity": "Opportunity", "action": "created", "data": {"id": "OPP-1"}}`
	resp, err := http.Post(server.URL+"/webhook/pipeliner", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("got status %d, want %d", got, want)
	}
	var envelope webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if !envelope.Success {
		t.Errorf("got success false, want true: %+v", envelope)
	}

	if got, want := len(dispatcher.events), 1; got != want {
		t.Fatalf("got %d dispatched events, want %d", got, want)
	}
	if got, want := dispatcher.events[0].Entity, "Opportunity"; got != want {
		t.Errorf("got entity %q, want %q", got, want)
	}
}

func TestHandleWebhookDispatchError(t *testing.T) {

	dispatcher := &fakeDispatcher{err: errors.New("project create failed")}
	webApp := setupWebApp(t, dispatcher)
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	body := `{"entity": "Opportunity", "action": "created"}`
	resp, err := http.Post(server.URL+"/webhook/pipeliner", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got, want := resp.StatusCode, http.StatusInternalServerError; got != want {
		t.Fatalf("got status %d, want %d", got, want)
	}
	var envelope webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Success {
		t.Error("got success true, want false")
	}
	if envelope.Error == "" {
		t.Error("error detail missing from envelope")
	}
}

func TestHandleWebhookBadJSON(t *testing.T) {

	dispatcher := &fakeDispatcher{}
	webApp := setupWebApp(t, dispatcher)
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/webhook/pipeliner", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got, want := resp.StatusCode, http.StatusBadRequest; got != want {
		t.Fatalf("got status %d, want %d", got, want)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("no event should be dispatched, got %d", len(dispatcher.events))
	}
}

func TestHandleWebhookMethodNotAllowed(t *testing.T) {

	webApp := setupWebApp(t, &fakeDispatcher{})
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/webhook/pipeliner")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusMethodNotAllowed; got != want {
		t.Errorf("got status %d, want %d", got, want)
	}
}

func TestHandleTest(t *testing.T) {

	dispatcher := &fakeDispatcher{}
	webApp := setupWebApp(t, dispatcher)
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	resp, err := http.Post(
		server.URL+"/test?name=Override+Name&value=125000&account=Beta+Industries",
		"application/json",
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("got status %d, want %d", got, want)
	}
	if got, want := len(dispatcher.events), 1; got != want {
		t.Fatalf("got %d dispatched events, want %d", got, want)
	}
	o, err := dispatcher.events[0].DecodeOpportunity()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := o.Name, "Override Name"; got != want {
		t.Errorf("got name %q, want %q", got, want)
	}
	if got, want := o.AccountName, "Beta Industries"; got != want {
		t.Errorf("got account %q, want %q", got, want)
	}
	if got, want := float64(o.Value), 125000.0; got != want {
		t.Errorf("got value %v, want %v", got, want)
	}
}

func TestHandleTestNegativeValue(t *testing.T) {

	dispatcher := &fakeDispatcher{}
	webApp := setupWebApp(t, dispatcher)
	server := httptest.NewServer(webApp.routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/test?value=-100", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got, want := resp.StatusCode, http.StatusBadRequest; got != want {
		t.Errorf("got status %d, want %d", got, want)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("no event should be dispatched, got %d", len(dispatcher.events))
	}
}
