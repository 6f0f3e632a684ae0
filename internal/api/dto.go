package api

import "github.com/sessionhost/sessiond/internal/session"

type healthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

type startSessionRequest struct {
	Workdir string `json:"workdir,omitempty"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	Workdir   string `json:"workdir"`
	Message   string `json:"message"`
}

type sessionInfoResponse struct {
	ID         string  `json:"id"`
	CreatedAt  string  `json:"created_at"`
	ExecCount  int     `json:"execution_count"`
	Closed     bool    `json:"closed"`
	UptimeSecs float64 `json:"uptime_seconds"`
	Workdir    string  `json:"workdir"`
}

type sessionListResponse struct {
	Sessions []sessionInfoResponse `json:"sessions"`
	Total    int                   `json:"total"`
}

type execRequest struct {
	Code    string `json:"code"`
	Timeout *int   `json:"timeout,omitempty"`
}

type errorResponse struct {
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback"`
}

type execResponse struct {
	Success        bool           `json:"success"`
	Stdout         string         `json:"stdout"`
	Stderr         string         `json:"stderr"`
	Value          *string        `json:"value,omitempty"`
	Error          *errorResponse `json:"error,omitempty"`
	TimedOut       bool           `json:"timed_out"`
	ExecutionCount int            `json:"execution_count"`
}

type variableDescriptorResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Repr string `json:"repr"`
}

type varsResponse struct {
	Variables []variableDescriptorResponse `json:"variables"`
}

type varsGetRequest struct {
	Names []string `json:"names"`
}

type varsGetResponse struct {
	Values map[string]*variableDescriptorResponse `json:"values"`
}

type historyEntryResponse struct {
	Source         string         `json:"source"`
	Success        bool           `json:"success"`
	Stdout         string         `json:"stdout"`
	Stderr         string         `json:"stderr"`
	Value          *string        `json:"value,omitempty"`
	Error          *errorResponse `json:"error,omitempty"`
	TimedOut       bool           `json:"timed_out"`
	ExecutionCount int            `json:"execution_count"`
	At             string         `json:"at"`
}

type historyResponse struct {
	Entries []historyEntryResponse `json:"entries"`
	Total   int                    `json:"total"`
}

type statusMessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func toErrorResponse(e *session.StructuredError) *errorResponse {
	if e == nil {
		return nil
	}
	return &errorResponse{Kind: e.Kind, Message: e.Message, Traceback: e.Traceback}
}

func toExecResponse(r session.ExecutionResult) execResponse {
	resp := execResponse{
		Success:        r.Success,
		Stdout:         r.Stdout,
		Stderr:         r.Stderr,
		Error:          toErrorResponse(r.Error),
		TimedOut:       r.TimedOut,
		ExecutionCount: r.ExecutionCount,
	}
	if r.HasValue {
		v := r.Value
		resp.Value = &v
	}
	return resp
}

func toVariableResponse(d session.VariableDescriptor) variableDescriptorResponse {
	return variableDescriptorResponse{Name: d.Name, Type: d.Type, Repr: d.Repr}
}
