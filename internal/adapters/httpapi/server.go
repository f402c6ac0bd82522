package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// Server exposes the interaction-time surface: rewritten links and
// attachments point here, and resolving them triggers the
// click/download-time detonation.
type Server struct {
	service *core.ZeroTrustService
	gateway core.GatewayProcessor
	logger  *zap.Logger
	addr    string
	httpSrv *http.Server
}

// NewServer creates the HTTP resolver server.
func NewServer(service *core.ZeroTrustService, gw core.GatewayProcessor, addr string, logger *zap.Logger) *Server {
	return &Server{
		service: service,
		gateway: gw,
		logger:  logger,
		addr:    addr,
	}
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/t/{id}", s.handleLinkResolve).Methods(http.MethodGet)
	router.HandleFunc("/a/{id}", s.handleAttachmentResolve).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stats", s.handleStats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	return router
}

// Start begins serving.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // detonation happens inline
	}

	s.logger.Info("HTTP resolver starting", zap.String("address", s.addr))

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// handleLinkResolve intercepts a click on a rewritten link. A safe
// verdict redirects to the original target; anything else serves a
// block page.
func (s *Server) handleLinkResolve(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, func(res *core.Resolution) {
		http.Redirect(w, r, res.Target, http.StatusFound)
	})
}

// handleAttachmentResolve intercepts a download of a rewritten
// attachment. The storage path is returned for the delivery layer to
// stream; this surface only decides.
func (s *Server) handleAttachmentResolve(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, func(res *core.Resolution) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"allowed": true,
			"target":  res.Target,
		})
	})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, onAllow func(*core.Resolution)) {
	id := mux.Vars(r)["id"]
	userCtx := userContextFrom(r)

	res, err := s.gateway.Resolve(r.Context(), id, userCtx)
	if err != nil {
		if errors.Is(err, core.ErrTrackingNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": core.ErrTrackingNotFound.Error(),
			})
			return
		}
		s.logger.Error("Resolution failed", zap.String("id", id), zap.Error(err))
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"allowed": false,
			"reason":  "resolution_error",
		})
		return
	}

	if res.Allowed {
		onAllow(res)
		return
	}

	writeJSON(w, http.StatusForbidden, map[string]interface{}{
		"allowed":    false,
		"reason":     res.Reason,
		"indicators": res.Indicators,
	})
}

// handleStats returns the pipeline's running statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.service.GetStatistics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_processed":      snap.TotalProcessed,
		"action_counts":        snap.ActionCounts,
		"avg_processing_ms":    snap.AverageProcessing.Milliseconds(),
		"latency_sample_count": snap.SampleCount,
	})
}

func userContextFrom(r *http.Request) core.UserContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = fwd
	}
	return core.UserContext{
		UserID:    r.Header.Get("X-User-ID"),
		SourceIP:  ip,
		UserAgent: r.UserAgent(),
		When:      time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
