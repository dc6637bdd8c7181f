package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/session"
)

// EndedHeader is set on 204 responses for calls that have ended.
const EndedHeader = "X-Conversation-Ended"

// handleGenerate submits the caller's reply (if any) and long-polls for the
// next utterance of call `sid`.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := parseGenerateRequest(r)
	if err != nil {
		observability.RecordQuery("http", "bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.opts.Sessions.Generate(r.Context(), req)
	switch {
	case err == nil:
		observability.RecordQuery("http", "ok")
		writeJSON(w, http.StatusOK, map[string]string{"response": res.Text})

	case errors.Is(err, session.ErrNoContent):
		outcome := "no_content"
		if res.Ended {
			outcome = "ended"
			w.Header().Set(EndedHeader, "true")
		}
		observability.RecordQuery("http", outcome)
		w.WriteHeader(http.StatusNoContent)

	case errors.Is(err, session.ErrReplyPending):
		observability.RecordQuery("http", "conflict")
		writeError(w, http.StatusConflict, "previous reply has not been played yet")

	case errors.Is(err, session.ErrInvalidRequest):
		observability.RecordQuery("http", "bad_request")
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, session.ErrShuttingDown):
		observability.RecordQuery("http", "unavailable")
		writeError(w, http.StatusServiceUnavailable, "shutting down")

	case r.Context().Err() != nil:
		observability.RecordQuery("http", "canceled")

	default:
		observability.RecordQuery("http", "error")
		log.Error().Err(err).Str("call_id", req.CallID).Msg("Generate failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseGenerateRequest reads sid, first, timeout, input and talk_timeout from
// the query string or a form body. Timeouts are in seconds.
func parseGenerateRequest(r *http.Request) (session.GenerateRequest, error) {
	var req session.GenerateRequest
	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form: %w", err)
	}

	req.CallID = r.Form.Get("sid")
	if req.CallID == "" {
		return req, errors.New("sid is required")
	}
	req.Input = r.Form.Get("input")

	if v := r.Form.Get("first"); v != "" {
		first, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid first %q", v)
		}
		req.First = first
	}

	var err error
	if req.Timeout, err = parseSeconds(r.Form.Get("timeout")); err != nil {
		return req, fmt.Errorf("invalid timeout: %w", err)
	}
	if req.TalkTimeout, err = parseSeconds(r.Form.Get("talk_timeout")); err != nil {
		return req, fmt.Errorf("invalid talk_timeout: %w", err)
	}
	return req, nil
}

func parseSeconds(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("must be positive, got %s", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
