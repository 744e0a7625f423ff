package service

import (
	"net/http"
	"trade_sim/internal/authz"
	"trade_sim/internal/models"
	"trade_sim/internal/modules/config"
	"trade_sim/internal/runner"
	"trade_sim/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// Server — командная поверхность для внешних дашбордов и CLI:
// start/stop/pause/list/get + смена пароля + live-пуш по вебсокету.
type Server struct {
	cfg  *config.Config
	mgr  *runner.Manager
	auth *authz.Authz
}

func NewServer(cfg *config.Config, mgr *runner.Manager, auth *authz.Authz) *Server {
	return &Server{cfg: cfg, mgr: mgr, auth: auth}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /api/sessions", s.wrap("start_session", s.handleStart))
	mux.Handle("GET /api/sessions", s.wrap("list_sessions", s.handleList))
	mux.Handle("GET /api/sessions/{interval}/{id}", s.wrap("get_session", s.handleGet))
	mux.Handle("POST /api/sessions/{interval}/{id}/pause", s.wrap("pause_session", s.handlePause))
	mux.Handle("DELETE /api/sessions/{interval}/{id}", s.wrap("stop_session", s.handleStop))
	mux.Handle("POST /api/password", s.wrap("update_password", s.handlePassword))
	mux.Handle("GET /ws/sessions", s.wrap("ws_sessions", s.handleWS))
	return mux
}

// wrap — basic auth + спан на каждый запрос.
func (s *Server) wrap(op string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !s.auth.Verify(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="simulator"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		span := opentracing.StartSpan(op)
		defer span.Finish()
		r = r.WithContext(opentracing.ContextWithSpan(r.Context(), span))

		h(w, r)
	})
}

type startRequest struct {
	Interval         string   `json:"interval"`
	Balance          *float64 `json:"balance"`
	EntryThreshold   *float64 `json:"entry_threshold"`
	ExitThreshold    *float64 `json:"exit_threshold"`
	FeePct           *float64 `json:"fee_pct"`
	MAEStopEnabled   *bool    `json:"mae_stop_enabled"`
	MAEStopThreshold *float64 `json:"mae_stop_threshold"`
	StopLossPct      *float64 `json:"stop_loss_pct"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	if req.Interval == "" {
		writeError(w, http.StatusBadRequest, "interval is required")
		return
	}
	if !s.cfg.HasInterval(req.Interval) {
		writeError(w, http.StatusBadRequest, "unknown interval: "+req.Interval)
		return
	}

	// незаданные поля берём из конфига — форма создания делает так же
	params := models.SessionParams{
		Interval:         req.Interval,
		StartBalance:     orDefault(req.Balance, s.cfg.StartBalance),
		EntryThreshold:   orDefault(req.EntryThreshold, s.cfg.EntryThreshold),
		ExitThreshold:    orDefault(req.ExitThreshold, s.cfg.ExitThreshold),
		FeePct:           orDefault(req.FeePct, s.cfg.FeePct),
		MAEStopEnabled:   orDefaultBool(req.MAEStopEnabled, s.cfg.MAEStopEnabled),
		MAEStopThreshold: orDefault(req.MAEStopThreshold, s.cfg.MAEStopThreshold),
		StopLossPct:      orDefault(req.StopLossPct, s.cfg.StopLossPct),
	}

	sessionID, err := s.mgr.StartSimulation(r.Context(), params)
	if err != nil {
		if errors.Is(err, models.ErrSessionExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.ListSessions())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	interval, id := r.PathValue("interval"), r.PathValue("id")
	snap, ok := s.mgr.Snapshot(interval, id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	interval, id := r.PathValue("interval"), r.PathValue("id")

	var req struct {
		Pause bool `json:"pause"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}

	if err := s.mgr.PauseSimulation(interval, id, req.Pause); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Pause})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	interval, id := r.PathValue("interval"), r.PathValue("id")

	if err := s.mgr.StopSimulation(r.Context(), interval, id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := s.auth.UpdatePassword(req.Password); err != nil {
		logger.Error("password update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := sonic.ConfigDefault.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("marshal response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func orDefault(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func orDefaultBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}
