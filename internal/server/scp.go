package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// handleSCPSink implements the receiving side of the SCP protocol
// (`scp -t`). Attackers use it to push tooling onto the box; the bytes go
// into the content store and nowhere near a real filesystem.
func (c *controller) handleSCPSink(ch ssh.Channel, cmd string) {
	c.recorder.RecordEvent("scp_upload", cmd)

	if _, err := ch.Write([]byte{0}); err != nil {
		return
	}

	reader := bufio.NewReader(ch)

	// Header line: "C0644 <size> <filename>\n"
	header, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "C") {
		return
	}

	parts := strings.SplitN(header, " ", 3)
	if len(parts) < 3 {
		return
	}

	size, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || size <= 0 || size > c.srv.cfg.MaxCaptureBytes {
		return
	}

	filename := sanitizeFilename(parts[2])

	if _, err := ch.Write([]byte{0}); err != nil {
		return
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(reader, data); err != nil {
		slog.Debug("SCP upload truncated", "session_id", c.recorder.SessionID(), "error", err)
		return
	}
	reader.ReadByte() // trailing null

	if c.srv.files != nil {
		digest, err := c.srv.files.Store(data)
		if err != nil {
			slog.Error("Failed to store SCP upload",
				"session_id", c.recorder.SessionID(), "error", err)
		} else {
			c.recorder.RecordDownload("scp://"+filename, digest, len(data), c.srv.files.PathFor(digest))
			c.publish("download", "scp://"+filename)
		}
	}

	ch.Write([]byte{0})
}

// sanitizeFilename strips directory components and anything outside a
// conservative allowlist. Client-supplied names are never trusted.
func sanitizeFilename(raw string) string {
	name := raw
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = fmt.Sprintf("upload_%d", time.Now().Unix())
	}
	return out
}
