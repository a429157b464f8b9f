// Package gateway exposes the RPC surface the host shell consumes. It
// binds loopback only; the vault never listens on a routable interface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/basket/chatvault/internal/bus"
	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/ingest"
	otelx "github.com/basket/chatvault/internal/otel"
	"github.com/basket/chatvault/internal/shared"
	"github.com/basket/chatvault/internal/vault"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config holds the gateway dependencies.
type Config struct {
	Store      *vault.Store
	Controller *ingest.Controller
	Bus        *bus.Bus
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Metrics    *otelx.Metrics
	AppVersion string
	IsPackaged bool
}

type Server struct {
	cfg Config
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otelx.TracerName)
	}
	return &Server{cfg: cfg}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("POST /import", s.handleImport)
	mux.HandleFunc("POST /wipe", s.handleWipe)
	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// ListenAndServe serves until ctx is canceled. Non-loopback binds are
// rejected outright.
func (s *Server) ListenAndServe(ctx context.Context, bindAddr string) error {
	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return fmt.Errorf("parse bind addr: %w", err)
	}
	h := strings.ToLower(strings.TrimSpace(host))
	if h != "127.0.0.1" && h != "localhost" && h != "::1" {
		return fmt.Errorf("refusing non-loopback bind %q: the vault is local-only", bindAddr)
	}

	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.cfg.Logger.Info("gateway listening", "addr", bindAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusResponse struct {
	Status    string `json:"status"`
	LocalOnly bool   `json:"localOnly"`
	VaultPath string `json:"vaultPath"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "secure",
		LocalOnly: true,
		VaultPath: s.cfg.Store.Paths().Vault,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	ctx, span := otelx.StartServerSpan(r.Context(), s.cfg.Tracer, "vault.search")
	defer span.End()

	started := time.Now()
	hits, err := s.cfg.Store.Search(ctx, query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SearchDuration.Record(ctx, time.Since(started).Seconds())
		s.cfg.Metrics.SearchHits.Add(ctx, int64(len(hits)))
	}
	if hits == nil {
		hits = []vault.Hit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

type importRequest struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
}

type importResponse struct {
	Success    bool   `json:"success"`
	RunID      int64  `json:"runId"`
	ArtifactID int64  `json:"artifactId"`
	ErrorCode  string `json:"error_code,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, span := otelx.StartServerSpan(r.Context(), s.cfg.Tracer, "vault.import_rpc",
		otelx.AttrProvider.String(req.Provider))
	defer span.End()

	result, err := s.cfg.Controller.ImportHeadless(ctx, req.Provider, req.Path)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, importResponse{
			Success:    false,
			RunID:      result.RunID,
			ArtifactID: result.ArtifactID,
			ErrorCode:  errcode.CodeOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Success:    true,
		RunID:      result.RunID,
		ArtifactID: result.ArtifactID,
	})
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
	ctx, span := otelx.StartServerSpan(ctx, s.cfg.Tracer, "vault.wipe")
	defer span.End()

	removed, err := s.cfg.Store.Wipe(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errcode.CodeOf(err))
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.WipeFilesRemoved.Add(ctx, int64(removed))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := s.cfg.Store.CollectDiagnostics(r.Context(), s.cfg.AppVersion, s.cfg.IsPackaged)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleEvents upgrades to a websocket and forwards run-lifecycle bus
// events until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			msg := map[string]any{"topic": ev.Topic, "payload": ev.Payload}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
