package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const gscStateTTL = 10 * time.Minute

// GSCConnector runs the Search Console OAuth consent flow.
type GSCConnector interface {
	Enabled() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, identity, code string) error
}

// connectGSC redirects to Google's consent page. The identity is parked in
// the cache under a one-time state value.
func (s *Server) connectGSC(w http.ResponseWriter, r *http.Request) {
	if !s.gscReady() {
		writeError(w, http.StatusServiceUnavailable, "search console is not configured")
		return
	}
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	state, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate state failed")
		return
	}
	if err := s.deps.States.Set(r.Context(), gscStateKey(state), []byte(identity), gscStateTTL); err != nil {
		s.logger.Error("store oauth state failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store oauth state failed")
		return
	}
	http.Redirect(w, r, s.deps.GSC.AuthCodeURL(state), http.StatusFound)
}

// gscCallback completes the consent flow and stores the token.
func (s *Server) gscCallback(w http.ResponseWriter, r *http.Request) {
	if !s.gscReady() {
		writeError(w, http.StatusServiceUnavailable, "search console is not configured")
		return
	}
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		writeError(w, http.StatusBadRequest, "consent denied: "+msg)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}
	raw, ok, err := s.deps.States.Get(r.Context(), gscStateKey(state))
	if err != nil || !ok || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "unknown or expired state")
		return
	}
	// A state is single use.
	if err := s.deps.States.Set(r.Context(), gscStateKey(state), nil, time.Second); err != nil {
		s.logger.Warn("expire oauth state failed", zap.Error(err))
	}
	identity := string(raw)
	if err := s.deps.GSC.Exchange(r.Context(), identity, code); err != nil {
		s.logger.Warn("oauth exchange failed", zap.String("identity", identity), zap.Error(err))
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	s.logger.Info("search console connected", zap.String("identity", identity))
	writeJSON(w, http.StatusOK, map[string]string{"identity": identity, "status": "connected"})
}

func (s *Server) gscReady() bool {
	return s.deps.GSC != nil && s.deps.GSC.Enabled() && s.deps.States != nil && s.deps.IDs != nil
}

func gscStateKey(state string) string {
	return "gsc-state:" + state
}
