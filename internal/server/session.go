package server

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/avetisov/honeyshell/internal/capture"
	"github.com/avetisov/honeyshell/internal/shell"
)

// State is a session controller lifecycle state.
type State int

// Controller states, in order of normal progression.
const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateShellActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateShellActive:
		return "shell_active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// controller orchestrates one session: it owns the recorder and the shell
// state exclusively, so no locking is needed beyond the recorder's own.
// The transport guarantees at most one concurrent callback per channel.
type controller struct {
	srv      *Server
	recorder *capture.Recorder
	sh       *shell.Shell
	username string

	state     State
	closeOnce sync.Once
}

func newController(srv *Server, ip string, port int) *controller {
	c := &controller{
		srv:      srv,
		recorder: capture.NewRecorder(ip, port),
		state:    StateConnected,
	}
	c.publish("session_started", "")
	return c
}

func (c *controller) transition(next State) {
	if c.state == StateClosed {
		return
	}
	c.state = next
}

func (c *controller) publish(kind, data string) {
	if c.srv.hub == nil {
		return
	}
	snap := c.recorder.Snapshot()
	c.srv.hub.Publish(capture.LiveEvent{
		SessionID: snap.SessionID,
		SourceIP:  snap.SourceIP,
		Kind:      kind,
		Data:      data,
	})
}

// sshConfig builds the per-connection transport config. Every password is
// accepted after a fixed delay; the delay both resembles normal auth
// latency and blunts timing-based fingerprinting. It suspends only this
// connection's goroutine.
func (c *controller) sshConfig() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		ServerVersion: "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1",
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			c.transition(StateAuthenticating)
			time.Sleep(c.srv.cfg.AuthDelay)

			c.username = meta.User()
			c.recorder.RecordAuth(meta.User(), string(password), true)
			c.publish("auth", meta.User())

			c.transition(StateAuthenticated)
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(c.srv.hostKey)
	return cfg
}

// handleChannel services one session channel's request stream.
func (c *controller) handleChannel(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			c.recorder.RecordEvent("pty_request", parseSSHString(req.Payload))
			req.Reply(true, nil)
		case "env":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			c.recorder.RecordEvent("shell_request", "")
			c.transition(StateShellActive)
			c.runInteractive(ctx, ch)
			return
		case "exec":
			cmd := parseSSHString(req.Payload)
			req.Reply(true, nil)
			c.recorder.RecordEvent("exec_request", cmd)
			c.transition(StateShellActive)

			if strings.HasPrefix(cmd, "scp -t") {
				c.handleSCPSink(ch, cmd)
			} else {
				c.execOne(ctx, ch, cmd)
			}
			ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			return
		case "window-change":
			req.Reply(false, nil)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// execOne runs a single command: execute, record, then reply. The order
// is fixed so a teardown mid-command never leaves a half-recorded entry.
func (c *controller) execOne(ctx context.Context, ch ssh.Channel, cmd string) {
	out := c.ensureShell().Execute(ctx, cmd)
	c.recorder.RecordCommand(cmd, out)
	c.publish("command", cmd)
	if out != "" {
		ch.Write([]byte(toCRLF(out)))
	}
}

// runInteractive drives the shell over a pty-style channel: banner,
// prompt, line editing, one command at a time.
func (c *controller) runInteractive(ctx context.Context, ch ssh.Channel) {
	sh := c.ensureShell()

	if _, err := ch.Write([]byte(c.srv.cfg.Banner)); err != nil {
		return
	}
	if _, err := ch.Write([]byte(c.prompt())); err != nil {
		return
	}

	for {
		line, ok := c.readLine(ch)
		if !ok {
			return
		}
		if strings.TrimSpace(line) == "" {
			if _, err := ch.Write([]byte(c.prompt())); err != nil {
				return
			}
			continue
		}

		out := sh.Execute(ctx, line)
		c.recorder.RecordCommand(line, out)
		c.publish("command", line)
		if out != "" {
			if _, err := ch.Write([]byte(toCRLF(out))); err != nil {
				return
			}
		}

		if shell.IsExit(line) {
			return
		}
		if _, err := ch.Write([]byte(c.prompt())); err != nil {
			return
		}
	}
}

func (c *controller) ensureShell() *shell.Shell {
	if c.sh == nil {
		c.sh = shell.New(shell.Options{
			Hostname: c.srv.cfg.Hostname,
			Fetcher:  c.srv.fetcher,
			Files:    c.srv.files,
			Recorder: c.recorder,
		})
	}
	return c.sh
}

func (c *controller) prompt() string {
	user := c.username
	if user == "" {
		user = "root"
	}
	cwd := c.ensureShell().Cwd()
	if cwd == "/root" {
		cwd = "~"
	}
	return user + "@" + c.srv.cfg.Hostname + ":" + cwd + "# "
}

// readLine reads one line from the channel, echoing input and handling
// backspace, CR, Ctrl+C and Ctrl+D the way a real pty would.
func (c *controller) readLine(ch ssh.Channel) (string, bool) {
	var line []byte
	buf := make([]byte, 1)

	for {
		n, err := ch.Read(buf)
		if err != nil {
			return "", false
		}
		if n == 0 {
			continue
		}

		b := buf[0]
		switch {
		case b == '\r' || b == '\n':
			ch.Write([]byte("\r\n"))
			return string(line), true
		case b == 0x03: // Ctrl+C abandons the line
			ch.Write([]byte("^C\r\n"))
			return "", true
		case b == 0x04: // Ctrl+D on an empty line ends the session
			if len(line) == 0 {
				ch.Write([]byte("logout\r\n"))
				return "", false
			}
		case b == 0x7f || b == 0x08:
			if len(line) > 0 {
				line = line[:len(line)-1]
				ch.Write([]byte("\b \b"))
			}
		case b >= 0x20:
			line = append(line, b)
			ch.Write(buf[:1])
		}
	}
}

// close finalizes the capture exactly once and hands the log to
// persistence. Persistence failure is logged and dropped; a lost log must
// never crash a session or affect another one.
func (c *controller) close() {
	c.closeOnce.Do(func() {
		c.state = StateClosed
		log := c.recorder.Finalize()
		c.publish("session_closed", "")

		if c.srv.repo == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.srv.repo.SaveSession(ctx, log); err != nil {
			slog.Error("Failed to persist session log",
				"session_id", log.SessionID, "error", err)
		}
	})
}

// parseSSHString decodes the leading length-prefixed string of a request
// payload (RFC 4254 wire format).
func parseSSHString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

func toCRLF(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}
