package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for component rendering",
	Long: `Start an HTTP server that renders components on request.

Endpoints:
  GET    /components           List components in the components directory
  GET    /components/{name}    Render a component (props from ?props=JSON)
  POST   /render               Render source or a named component
  GET    /health               Health check
  GET    /metrics              Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}

type renderRequest struct {
	Source  string         `json:"source,omitempty"`
	Name    string         `json:"name,omitempty"`
	Props   map[string]any `json:"props,omitempty"`
	Timeout string         `json:"timeout,omitempty"`
	Tree    bool           `json:"tree,omitempty"`
}

type renderResponse struct {
	HTML       string              `json:"html"`
	Tree       any                 `json:"tree,omitempty"`
	Exports    []string            `json:"exports"`
	Logs       []executor.LogEntry `json:"logs,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

type errorResponse struct {
	Error    string           `json:"error"`
	Failures []*failure.Error `json:"failures,omitempty"`
}

type server struct {
	app    *app
	router chi.Router
}

func newServer(a *app) *server {
	s := &server{app: a, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.app.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.app.metrics, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.app.cfg.Server.RateLimit, s.app.cfg.Server.Burst))
		r.Get("/components", s.listComponents)
		r.Get("/components/*", s.renderComponent)
		r.Post("/render", s.render)
	})
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) listComponents(w http.ResponseWriter, r *http.Request) {
	names, err := s.app.resolver.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": names})
}

func (s *server) renderComponent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	var opts []executor.Option
	if raw := r.URL.Query().Get("props"); raw != "" {
		props := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("props must be a JSON object"))
			return
		}
		opts = append(opts, executor.WithProps(props))
	}

	comp, err := s.app.renderer.RenderNamed(r.Context(), name, opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer comp.Close()

	html, err := s.app.html(comp.Tree())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

func (s *server) render(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.app.cfg.Server.MaxBodySize)

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	if (req.Source == "") == (req.Name == "") {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of source or name is required"))
		return
	}

	var opts []executor.Option
	if req.Props != nil {
		opts = append(opts, executor.WithProps(req.Props))
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 || d > s.app.cfg.Render.Timeout {
			writeError(w, http.StatusBadRequest, errors.New("timeout must be a positive duration no longer than the server deadline"))
			return
		}
		opts = append(opts, executor.WithTimeout(d))
	}

	start := time.Now()
	var comp executor.Component
	var err error
	if req.Name != "" {
		comp, err = s.app.renderer.RenderNamed(r.Context(), req.Name, opts...)
	} else {
		comp, err = s.app.renderer.Render(r.Context(), req.Source, opts...)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer comp.Close()

	html, err := s.app.html(comp.Tree())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := renderResponse{
		HTML:       html,
		Exports:    comp.Exports(),
		Logs:       comp.Logs(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if req.Tree {
		resp.Tree = comp.Tree()
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case failure.Is(err, failure.KindExecutionTimeout):
		return http.StatusGatewayTimeout
	case failure.KindOf(err) != failure.KindUnknown:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Failures: failure.All(err)})
}

// rateLimit caps requests across all clients. A zero limit disables it.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      newServer(a),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("jsxbox server listening",
			zap.String("addr", srv.Addr),
			zap.String("engine", a.cfg.Render.Engine))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
