package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxseedlab/botledger/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

// Routes groups the handlers mounted by NewRouter. Nil handlers are not mounted.
type Routes struct {
	Webhook       http.Handler
	Sweep         http.Handler
	RequestBot    http.HandlerFunc
	StopBot       http.HandlerFunc
	Registry      *prometheus.Registry
	APIToken      string
	TrustedHeader string
}

func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if rt.Webhook != nil {
		r.Handle("/webhooks/bot", rt.Webhook).Methods(http.MethodPost)
	}
	if rt.Sweep != nil {
		r.Handle("/internal/sweep", httpapi.RequireToken(rt.APIToken, rt.TrustedHeader)(rt.Sweep)).
			Methods(http.MethodGet, http.MethodPost)
	}

	bots := r.PathPrefix("/bots").Subrouter()
	bots.Use(mux.MiddlewareFunc(httpapi.RequireToken(rt.APIToken, "")))
	if rt.RequestBot != nil {
		bots.HandleFunc("", rt.RequestBot).Methods(http.MethodPost)
	}
	if rt.StopBot != nil {
		bots.HandleFunc("/{botID}/stop", rt.StopBot).Methods(http.MethodPost)
	}

	if rt.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{Registry: rt.Registry})).
			Methods(http.MethodGet)
	}
	return r
}

type Server struct {
	srv *http.Server
}

func New(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
}

// Serve blocks until ctx is done, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
