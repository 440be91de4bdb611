// Package capture builds the structured, append-only record of one
// attacker session.
package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avetisov/honeyshell/internal/domain"
)

// Recorder accumulates a SessionLog for exactly one session. Record calls
// stamp the current time and append under a single lock; contention is
// trivial since one controller drives one session.
type Recorder struct {
	mu  sync.Mutex
	log domain.SessionLog
}

// NewRecorder creates a recorder for a session from the given source.
func NewRecorder(sourceIP string, sourcePort int) *Recorder {
	return &Recorder{
		log: domain.SessionLog{
			SessionID:  uuid.NewString(),
			SourceIP:   sourceIP,
			SourcePort: sourcePort,
			StartedAt:  time.Now().UTC(),
		},
	}
}

// SessionID returns the process-unique identifier of this session.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.SessionID
}

// RecordAuth appends an authentication attempt. The last username wins.
func (r *Recorder) RecordAuth(username, password string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log.Finalized() {
		return
	}
	r.log.Auths = append(r.log.Auths, domain.AuthAttempt{
		Timestamp: time.Now().UTC(),
		Username:  username,
		Password:  password,
		Success:   success,
	})
	r.log.Username = username
	r.log.AuthAttempts++
	if success {
		r.log.AuthSuccess = true
	}

	slog.Info("Authentication attempt",
		"session_id", r.log.SessionID,
		"username", username,
		"password", password,
		"success", success)
}

// RecordCommand appends a command execution with the output it produced.
func (r *Recorder) RecordCommand(input, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log.Finalized() {
		return
	}
	r.log.Commands = append(r.log.Commands, domain.CommandExecution{
		Timestamp: time.Now().UTC(),
		Input:     input,
		Output:    output,
	})

	slog.Info("Command executed",
		"session_id", r.log.SessionID,
		"command", input)
}

// RecordDownload appends a captured file transfer.
func (r *Recorder) RecordDownload(url, sha256 string, size int, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log.Finalized() {
		return
	}
	r.log.Downloads = append(r.log.Downloads, domain.FileDownload{
		Timestamp: time.Now().UTC(),
		URL:       url,
		SHA256:    sha256,
		SizeBytes: size,
		Path:      path,
	})

	slog.Info("File captured",
		"session_id", r.log.SessionID,
		"url", url,
		"sha256", sha256,
		"size", size)
}

// RecordEvent appends a generic session event.
func (r *Recorder) RecordEvent(kind, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log.Finalized() {
		return
	}
	r.log.Events = append(r.log.Events, domain.SessionEvent{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Data:      data,
	})

	slog.Info("Session event",
		"session_id", r.log.SessionID,
		"kind", kind,
		"data", data)
}

// Finalize sets the end timestamp and returns an immutable snapshot for
// handoff to persistence. A second call is a no-op returning the already
// finalized log with its original end timestamp.
func (r *Recorder) Finalize() *domain.SessionLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.log.Finalized() {
		end := time.Now().UTC()
		r.log.EndedAt = &end

		slog.Info("Session ended",
			"session_id", r.log.SessionID,
			"duration", r.log.Duration().Round(time.Millisecond),
			"commands", len(r.log.Commands),
			"downloads", len(r.log.Downloads))
	}

	return r.snapshotLocked()
}

// Snapshot returns a deep copy of the log as recorded so far.
func (r *Recorder) Snapshot() *domain.SessionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() *domain.SessionLog {
	clone := r.log
	clone.Auths = append([]domain.AuthAttempt(nil), r.log.Auths...)
	clone.Commands = append([]domain.CommandExecution(nil), r.log.Commands...)
	clone.Downloads = append([]domain.FileDownload(nil), r.log.Downloads...)
	clone.Events = append([]domain.SessionEvent(nil), r.log.Events...)
	if r.log.EndedAt != nil {
		end := *r.log.EndedAt
		clone.EndedAt = &end
	}
	return &clone
}
