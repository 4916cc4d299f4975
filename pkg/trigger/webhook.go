package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/config"
	"github.com/klutch-io/klutch-controller/pkg/engine"
	"github.com/klutch-io/klutch-controller/pkg/metrics"
)

// shutdownGrace bounds how long the webhook's HTTP server is given to drain
// in-flight requests when stopped.
const shutdownGrace = 5 * time.Second

// Webhook is the HTTP trigger source: any POST fires a trigger and gets a
// 200 OK / "OK" response; any other method is rejected with 405.
type Webhook struct {
	addr     string
	triggers chan<- engine.Trigger
	log      *slog.Logger
	server   *http.Server

	stop chan struct{}
	done chan struct{}
}

// NewWebhook constructs a Webhook from the trigger_web_hook configuration
// section.
func NewWebhook(cfg config.TriggerWebHookConfig, triggers chan<- engine.Trigger, log *slog.Logger) *Webhook {
	return &Webhook{
		addr:     fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		triggers: triggers,
		log:      log.With("source", "trigger-webhook"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name implements Source.
func (w *Webhook) Name() string { return "trigger-webhook" }

// Stop implements Source. Safe to call multiple times.
func (w *Webhook) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// Alive implements Source.
func (w *Webhook) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Run starts the HTTP server and blocks until stopped, then shuts it down
// with a bounded grace period for in-flight requests.
func (w *Webhook) Run(ctx context.Context) error {
	defer close(w.done)

	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handle)
	w.server = &http.Server{Addr: w.addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		w.log.Info("webhook listening", "addr", w.addr)
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-w.stop:
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := w.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-serveErr
	return nil
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, fmt.Sprintf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	_, _ = io.Copy(io.Discard, r.Body)

	metrics.TriggersReceived.WithLabelValues(w.Name()).Inc()
	select {
	case w.triggers <- engine.Trigger{Source: w.Name()}:
		w.log.Info("trigger fired")
	default:
		w.log.Warn("trigger channel full, dropping trigger")
	}

	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "OK")
}
