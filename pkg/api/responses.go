package api

import (
	"github.com/codeready-toolchain/taskstream/pkg/history"
	"github.com/codeready-toolchain/taskstream/pkg/session"
)

// HealthCheck is the status of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string                 `json:"status"`
	Version        string                 `json:"version"`
	ActiveSessions int                    `json:"active_sessions"`
	Checks         map[string]HealthCheck `json:"checks"`
}

// SessionListResponse is returned by GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
	Total    int            `json:"total"`
}

// SessionResponse is returned by GET /api/v1/sessions/:id.
type SessionResponse struct {
	session.Info
	PendingDialogs int `json:"pending_dialogs"`
}

// CancelResponse is returned by POST /api/v1/sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// TaskTypesResponse is returned by GET /api/v1/task-types.
type TaskTypesResponse struct {
	TaskTypes []string `json:"task_types"`
	Default   string   `json:"default"`
}

// RunListResponse is returned by GET /api/v1/runs.
type RunListResponse struct {
	Runs []history.Run `json:"runs"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
