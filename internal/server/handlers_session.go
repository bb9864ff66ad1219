package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/history"
	"github.com/23skdu/longbow-parley/internal/session"
)

type CreateSessionRequest struct {
	Options map[string]any `json:"options"`
}

type CreateSessionResponse struct {
	ID              string            `json:"id"`
	EffectiveConfig map[string]string `json:"effective_config"`
}

// describeConfig handles GET /api/config
func (s *Server) describeConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.Describe())
}

// createSession handles POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	options := make(map[string]string, len(req.Options))
	for k, v := range req.Options {
		options[k] = optionText(v)
	}

	id, sess, err := s.registry.Create(options)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		ID:              id,
		EffectiveConfig: sess.EffectiveConfig(),
	})
}

// optionText renders a JSON option value the way it would be typed on the
// command line.
func optionText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return sess, true
}

// getSession handles GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// getSessionConfig handles GET /api/sessions/{sessionID}/config
func (s *Server) getSessionConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.EffectiveConfig())
}

// resetSession handles POST /api/sessions/{sessionID}/reset
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// clearContext handles POST /api/sessions/{sessionID}/clear
func (s *Server) clearContext(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.ClearContext(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// deleteSession handles DELETE /api/sessions/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

// exportHistory handles GET /api/sessions/{sessionID}/history.arrow
func (s *Server) exportHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.WriteHeader(http.StatusOK)
	if err := history.Write(w, sess.History()); err != nil {
		s.log.Error("history export failed", "err", err)
	}
}
