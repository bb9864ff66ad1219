package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/23skdu/longbow-parley/internal/session"
)

type TurnRequest struct {
	Prompt string `json:"prompt"`
}

type TurnResponse struct {
	Turn         int     `json:"turn"`
	Response     string  `json:"response"`
	PromptLen    int     `json:"prompt_len"`
	Generated    int     `json:"generated"`
	EndedByEOS   bool    `json:"ended_by_eos"`
	Cancelled    bool    `json:"cancelled"`
	ContextReset bool    `json:"context_reset"`
	AbsPos       int     `json:"abs_pos"`
	DurationMs   float64 `json:"duration_ms"`
}

type tokenEvent struct {
	Text string `json:"text"`
}

func newTurnResponse(res session.Result) TurnResponse {
	return TurnResponse{
		Turn:         res.Turn,
		Response:     res.Response,
		PromptLen:    res.PromptLen,
		Generated:    res.Generated,
		EndedByEOS:   res.EndedByEOS,
		Cancelled:    res.Cancelled,
		ContextReset: res.ContextReset,
		AbsPos:       res.AbsPos,
		DurationMs:   float64(res.Duration.Microseconds()) / 1000,
	}
}

// recordTurn feeds the monitor. Refused turns are not recorded.
func (s *Server) recordTurn(res session.Result, err error) {
	if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrContextBudgetExceeded) ||
		errors.Is(err, session.ErrClosed) {
		return
	}
	s.monitor.RecordTurn(res.Generated, res.Duration, err != nil)
}

func (s *Server) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.config.TurnTimeout > 0 {
		return context.WithTimeout(parent, s.config.TurnTimeout)
	}
	return context.WithCancel(parent)
}

// submitTurn handles POST /api/sessions/{sessionID}/turns. Fragments stream
// as server-sent events unless stream=false is given.
func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	if r.URL.Query().Get("stream") == "false" {
		res, err := sess.Submit(ctx, req.Prompt, nil)
		s.recordTurn(res, err)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTurnResponse(res))
		return
	}

	sse := newSSEWriter(w)
	res, err := sess.Submit(ctx, req.Prompt, func(fragment string) bool {
		return sse.writeEvent("token", tokenEvent{Text: fragment}) == nil
	})
	s.recordTurn(res, err)
	if err != nil {
		if !sse.started {
			writeDomainError(w, err)
			return
		}
		_, code, details := classify(err)
		sse.writeEvent("error", ErrorDetail{Code: code, Message: err.Error(), Details: details})
		return
	}
	sse.writeEvent("done", newTurnResponse(res))
}
