package web

// This file describes the web server for this project.
//
// Note that modules called by this server should provide self-describing errors since
// these are sent directly to an internal server error func:
//
//	web.ServerError(w, r, err)
//
// This web server also sets out each endpoint handler as a HandlerFunc. This allows for
// the router to provide arguments to the handler, as discussed in Mat Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// Helper functions, such as `ServerError` and `clientError` are at the end of the file.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"oppsync/config"
	"oppsync/pipeliner"
	"oppsync/relay"
)

// maxWebhookBytes caps inbound webhook bodies.
const maxWebhookBytes = 1 << 20

// shutdownTimeout bounds how long in-flight deliveries may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

// Dispatcher handles a decoded webhook delivery end to end.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *pipeliner.Event) error
}

// WebApp is the configuration object for the web server.
type WebApp struct {
	log        *slog.Logger
	cfg        *config.Config
	dispatcher Dispatcher
	server     *http.Server
}

// New initialises a WebApp. An error type is returned for future use.
func New(logger *slog.Logger, cfg *config.Config, dispatcher Dispatcher) (*WebApp, error) {

	server := &http.Server{
		Addr:              cfg.Web.ListenAddress,
		ReadHeaderTimeout: time.Duration(30 * time.Second),
		// Project creation populates the full task template within the
		// request, so deliveries can legitimately run long.
		WriteTimeout:   time.Duration(120 * time.Second),
		MaxHeaderBytes: 1 << 19, // 100k ish
	}

	webApp := &WebApp{
		log:        logger,
		cfg:        cfg,
		dispatcher: dispatcher,
		server:     server,
	}
	return webApp, nil
}

// StartServer starts a WebApp, blocking until ctx is cancelled and the
// server has drained, or the listener fails.
func (web *WebApp) StartServer(ctx context.Context) error {
	web.server.Handler = web.routes()
	web.log.Info(fmt.Sprintf("Starting server on %s in %s mode", web.cfg.Web.ListenAddress, web.cfg.Mode()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := web.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		web.log.Info("Shutting down server")
		return web.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// routes connects all of the endpoints and provides middleware.
func (web *WebApp) routes() http.Handler {

	r := mux.NewRouter()

	r.Handle(
		"/health",
		web.handleHealth(),
	).Methods("GET")
	r.Handle(
		"/webhook/pipeliner",
		web.handleWebhook(),
	).Methods("POST")
	r.Handle(
		"/test",
		web.handleTest(),
	).Methods("POST")

	logging := handlers.LoggingHandler(os.Stdout, r)
	return logging
}

// healthResponse is the envelope returned by /health.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Mode      string `json:"mode"`
}

// webhookResponse is the envelope returned by /webhook/pipeliner and
// /test.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleHealth serves the /health liveness endpoint.
func (web *WebApp) handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		web.renderJSON(w, http.StatusOK, healthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Message:   "Pipeliner webhook relay is running",
			Mode:      web.cfg.Mode(),
		})
	})
}

// handleWebhook serves the /webhook/pipeliner delivery endpoint. Every
// decodable delivery is answered 200 whether or not it produced a side
// effect; only a failed project creation is answered 500 so the CRM
// retries it.
func (web *WebApp) handleWebhook() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		var event pipeliner.Event
		body := http.MaxBytesReader(w, r.Body, maxWebhookBytes)
		if err := json.NewDecoder(body).Decode(&event); err != nil {
			web.clientError(w, fmt.Sprintf("undecodable webhook body: %v", err), http.StatusBadRequest)
			return
		}

		if err := web.dispatcher.Dispatch(ctx, &event); err != nil {
			web.ServerError(w, r, err)
			return
		}

		web.renderJSON(w, http.StatusOK, webhookResponse{
			Success: true,
			Message: fmt.Sprintf("processed %s %s", event.Entity, event.Action),
		})
	})
}

// handleTest serves the /test trigger, dispatching a synthetic
// opportunity created event. Query parameters name, value and account
// override the sample opportunity's fields.
func (web *WebApp) handleTest() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		form := &TestForm{}
		if err := DecodeURLParams(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		validator := NewValidator()
		form.Validate(validator)
		if !validator.Valid() {
			web.clientError(w, fmt.Sprintf("invalid test parameters: %v", validator.Errors), http.StatusBadRequest)
			return
		}

		o := relay.SampleOpportunity()
		if form.Name != "" {
			o.Name = form.Name
		}
		if form.Account != "" {
			o.AccountName = form.Account
		}
		if form.Value > 0 {
			o.Value = pipeliner.FlexFloat(form.Value)
		}

		event, err := relay.NewTestEvent(o)
		if err != nil {
			web.ServerError(w, r, err)
			return
		}
		if err := web.dispatcher.Dispatch(ctx, event); err != nil {
			web.ServerError(w, r, err)
			return
		}

		web.renderJSON(w, http.StatusOK, webhookResponse{
			Success: true,
			Message: fmt.Sprintf("test opportunity %q dispatched", o.Name),
		})
	})
}

/* -------------------------------------------------------------------------- */
// Helpers
/* -------------------------------------------------------------------------- */

// renderJSON writes data as a JSON response body.
func (web *WebApp) renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		web.log.Error(fmt.Sprintf("response encoding error: %v", err))
	}
}

// ServerError logs and returns an internal server error. The error
// should contain the information needed for logging.
func (web *WebApp) ServerError(w http.ResponseWriter, r *http.Request, errs ...error) {
	err := errors.Join(errs...)
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	web.renderJSON(w, http.StatusInternalServerError, webhookResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// clientError returns a client error.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	web.renderJSON(w, status, webhookResponse{
		Success: false,
		Error:   message,
	})
}
