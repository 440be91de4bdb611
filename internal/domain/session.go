// Package domain contains core domain types for honeyshell.
package domain

import (
	"time"
)

// AuthAttempt is one recorded credential submission.
type AuthAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Success   bool      `json:"success"`
}

// CommandExecution is one command line and the output the attacker saw.
type CommandExecution struct {
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
}

// FileDownload is a captured file transfer (wget/curl fetch or scp upload).
type FileDownload struct {
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	SHA256    string    `json:"sha256"`
	SizeBytes int       `json:"size_bytes"`
	Path      string    `json:"path"`
}

// SessionEvent is a generic lifecycle event (pty request, channel close, ...).
type SessionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Data      string    `json:"data,omitempty"`
}

// SessionLog is the complete, ordered record of one attacker session.
// Event slices are append-only; a finalized log is never mutated again.
type SessionLog struct {
	SessionID    string             `json:"session_id"`
	SourceIP     string             `json:"source_ip"`
	SourcePort   int                `json:"source_port"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	Username     string             `json:"username,omitempty"`
	AuthAttempts int                `json:"auth_attempts"`
	AuthSuccess  bool               `json:"auth_success"`
	Auths        []AuthAttempt      `json:"auths,omitempty"`
	Commands     []CommandExecution `json:"commands,omitempty"`
	Downloads    []FileDownload     `json:"downloads,omitempty"`
	Events       []SessionEvent     `json:"events,omitempty"`
}

// Finalized returns true once the session has an end timestamp.
func (l *SessionLog) Finalized() bool {
	return l.EndedAt != nil
}

// Duration returns the session length, using the current time while the
// session is still open.
func (l *SessionLog) Duration() time.Duration {
	end := time.Now()
	if l.EndedAt != nil {
		end = *l.EndedAt
	}
	return end.Sub(l.StartedAt)
}
