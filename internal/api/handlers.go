package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionhost/sessiond/internal/sessionmgr"
)

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Service:        "sessiond",
		Version:        s.version,
		ActiveSessions: s.mgr.ActiveCount(),
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	sess, err := s.mgr.Create(req.Workdir)
	if err != nil {
		if err == sessionmgr.ErrInvalidWorkdir {
			writeError(w, http.StatusBadRequest, "workdir does not exist or is not a directory")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, startSessionResponse{
		SessionID: sess.ID(),
		CreatedAt: sess.CreatedAt().Format(isoLayout),
		Workdir:   sess.Workdir(),
		Message:   "session created",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.mgr.List()
	out := make([]sessionInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, infoToResponse(info))
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: out, Total: len(out)})
}

func infoToResponse(info sessionmgr.Info) sessionInfoResponse {
	return sessionInfoResponse{
		ID:         info.ID,
		CreatedAt:  info.CreatedAt.Format(isoLayout),
		ExecCount:  info.ExecCount,
		Closed:     info.Closed,
		UptimeSecs: info.UptimeSecs,
		Workdir:    info.Workdir,
	}
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := s.mgr.Info(id)
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, infoToResponse(info))
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.mgr.Get(id)
	if !ok {
		writeNotFound(w)
		return
	}

	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var timeoutOverride *time.Duration
	if req.Timeout != nil {
		d := time.Duration(*req.Timeout) * time.Second
		timeoutOverride = &d
	}

	result, err := sess.Execute(req.Code, timeoutOverride)
	if err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, toExecResponse(result))
}

func (s *Server) handleVars(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.mgr.Get(id)
	if !ok {
		writeNotFound(w)
		return
	}
	descriptors, err := sess.ListVariables()
	if err != nil {
		writeNotFound(w)
		return
	}
	out := make([]variableDescriptorResponse, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, toVariableResponse(d))
	}
	writeJSON(w, http.StatusOK, varsResponse{Variables: out})
}

func (s *Server) handleVarsGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.mgr.Get(id)
	if !ok {
		writeNotFound(w)
		return
	}

	var req varsGetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	values, err := sess.GetVariables(req.Names)
	if err != nil {
		writeNotFound(w)
		return
	}
	out := make(map[string]*variableDescriptorResponse, len(values))
	for name, d := range values {
		if d == nil {
			out[name] = nil
			continue
		}
		v := toVariableResponse(*d)
		out[name] = &v
	}
	writeJSON(w, http.StatusOK, varsGetResponse{Values: out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.mgr.Get(id)
	if !ok {
		writeNotFound(w)
		return
	}

	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid n")
			return
		}
		n = parsed
	}

	entries, err := sess.GetHistory(n)
	if err != nil {
		writeNotFound(w)
		return
	}
	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryResponse{
			Source:         e.Source,
			Success:        e.Success,
			Stdout:         e.Stdout,
			Stderr:         e.Stderr,
			Value:          valueOrNil(e.HasValue, e.Value),
			Error:          toErrorResponse(e.Error),
			TimedOut:       e.TimedOut,
			ExecutionCount: e.ExecutionCount,
			At:             e.At.Format(isoLayout),
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: out, Total: len(out)})
}

func valueOrNil(has bool, v string) *string {
	if !has {
		return nil
	}
	return &v
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.mgr.Get(id)
	if !ok {
		writeNotFound(w)
		return
	}
	if err := sess.Reset(); err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, statusMessageResponse{Status: "ok", Message: "session reset"})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Close(id); err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, statusMessageResponse{Status: "ok", Message: "session closed"})
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "session not found; create one first via POST /v1/session/start")
}
