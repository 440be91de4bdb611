package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/avetisov/honeyshell/internal/capture"
	"github.com/avetisov/honeyshell/internal/config"
	"github.com/avetisov/honeyshell/internal/domain"
	"github.com/avetisov/honeyshell/internal/filestore"
	"github.com/avetisov/honeyshell/internal/ratelimit"
	"github.com/avetisov/honeyshell/internal/store"
)

// memRepo collects saved logs for assertions.
type memRepo struct {
	mu    sync.Mutex
	saved []*domain.SessionLog
}

func (m *memRepo) SaveSession(_ context.Context, log *domain.SessionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, log)
	return nil
}

func (m *memRepo) GetSession(context.Context, string) (*domain.SessionLog, error) {
	return nil, nil
}

func (m *memRepo) ListSessions(context.Context, int, int) ([]*domain.SessionLog, error) {
	return nil, nil
}

func (m *memRepo) CountSessions(context.Context) (int64, error) { return 0, nil }

func (m *memRepo) TopCredentials(context.Context, int) ([]store.CredentialCount, error) {
	return nil, nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

func (m *memRepo) logs() []*domain.SessionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SessionLog(nil), m.saved...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ListenAddr:      "127.0.0.1:0",
		HostKeyPath:     filepath.Join(dir, "host_key"),
		MaxConns:        8,
		MaxConnsPerIP:   100,
		RateWindow:      time.Minute,
		AuthDelay:       0,
		Hostname:        "honeypot",
		Banner:          "Welcome to Ubuntu 22.04.1 LTS\r\n",
		MaxCaptureBytes: 1024,
	}
}

// startServer runs a server on an ephemeral port and returns its address
// together with the content store backing it.
func startServer(t *testing.T, cfg *config.Config, repo store.Repository, limiter *ratelimit.Limiter) (string, *filestore.Store) {
	t.Helper()

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New() returned error: %v", err)
	}

	srv, err := New(cfg, limiter, repo, files, nil, capture.NewHub())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		t.Fatalf("Listen() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln) //nolint:errcheck

	return ln.Addr().String(), files
}

func dial(t *testing.T, addr, user, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func waitForLogs(t *testing.T, repo *memRepo, n int) []*domain.SessionLog {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if logs := repo.logs(); len(logs) >= n {
			return logs
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d session logs", n)
	return nil
}

func TestAnyCredentialAccepted(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)
	addr, _ := startServer(t, cfg, repo, ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow))

	client, err := dial(t, addr, "root", "hunter2")
	if err != nil {
		t.Fatalf("Expected auth to succeed for any credentials, got %v", err)
	}
	client.Close()

	logs := waitForLogs(t, repo, 1)
	log := logs[0]
	if len(log.Auths) != 1 {
		t.Fatalf("Expected exactly 1 auth attempt, got %d", len(log.Auths))
	}
	if !log.Auths[0].Success || !log.AuthSuccess {
		t.Error("Expected auth attempt recorded as success")
	}
	if log.Username != "root" {
		t.Errorf("Expected username root, got %s", log.Username)
	}
}

func TestExecCommandRecorded(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)
	addr, _ := startServer(t, cfg, repo, ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow))

	client, err := dial(t, addr, "admin", "admin")
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() returned error: %v", err)
	}
	out, err := sess.Output("whoami")
	if err != nil {
		t.Fatalf("Output() returned error: %v", err)
	}
	if !strings.Contains(string(out), "root") {
		t.Errorf("Expected root in output, got %q", out)
	}
	sess.Close()
	client.Close()

	logs := waitForLogs(t, repo, 1)
	log := logs[0]
	if len(log.Commands) != 1 {
		t.Fatalf("Expected exactly 1 command, got %d", len(log.Commands))
	}
	if log.Commands[0].Input != "whoami" {
		t.Errorf("Expected whoami recorded, got %q", log.Commands[0].Input)
	}
	if log.EndedAt == nil {
		t.Error("Expected finalized log with end timestamp")
	}
}

func TestRateLimitDropsConnection(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)
	addr, _ := startServer(t, cfg, repo, ratelimit.New(1, time.Minute))

	client, err := dial(t, addr, "root", "x")
	if err != nil {
		t.Fatalf("Expected first connection admitted, got %v", err)
	}
	defer client.Close()

	if _, err := dial(t, addr, "root", "x"); err == nil {
		t.Error("Expected second connection to be dropped by the rate limiter")
	}
}

func TestUnknownCommandOverExec(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)
	addr, _ := startServer(t, cfg, repo, ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow))

	client, err := dial(t, addr, "root", "x")
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() returned error: %v", err)
	}
	defer sess.Close()

	out, err := sess.Output("beacon --connect")
	if err != nil {
		t.Fatalf("Output() returned error: %v", err)
	}
	if !strings.Contains(string(out), "beacon: command not found") {
		t.Errorf("Expected command not found, got %q", out)
	}
}

func TestLoadOrGenHostKeyStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")

	first, err := loadOrGenHostKey(path)
	if err != nil {
		t.Fatalf("First loadOrGenHostKey() returned error: %v", err)
	}
	second, err := loadOrGenHostKey(path)
	if err != nil {
		t.Fatalf("Second loadOrGenHostKey() returned error: %v", err)
	}

	if string(first.PublicKey().Marshal()) != string(second.PublicKey().Marshal()) {
		t.Error("Expected persisted host key to load identically")
	}
}

func TestParseSSHString(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{"valid", []byte{0, 0, 0, 2, 'l', 's'}, "ls"},
		{"empty payload", nil, ""},
		{"short payload", []byte{0, 0}, ""},
		{"length overrun", []byte{0, 0, 0, 9, 'l', 's'}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseSSHString(tt.payload); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"miner.sh", "miner.sh"},
		{"../../etc/passwd", "passwd"},
		{"/tmp/../root/.ssh/authorized_keys", "authorized_keys"},
		{"a b$c.sh", "abc.sh"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateConnected:      "connected",
		StateAuthenticating: "authenticating",
		StateAuthenticated:  "authenticated",
		StateShellActive:    "shell_active",
		StateClosed:         "closed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

// readAck consumes one SCP protocol ack byte.
func readAck(t *testing.T, r io.Reader) {
	t.Helper()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("Reading SCP ack: %v", err)
	}
	if buf[0] != 0 {
		t.Fatalf("Expected SCP ack 0, got %d", buf[0])
	}
}

func TestSCPUploadCaptured(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)
	addr, files := startServer(t, cfg, repo, ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow))

	client, err := dial(t, addr, "root", "x")
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() returned error: %v", err)
	}
	in, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe() returned error: %v", err)
	}
	out, err := sess.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe() returned error: %v", err)
	}
	if err := sess.Start("scp -t /tmp"); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	payload := []byte("#!/bin/sh\nwhile true; do :; done\n")

	readAck(t, out)
	fmt.Fprintf(in, "C0644 %d miner.sh\n", len(payload))
	readAck(t, out)
	in.Write(payload)
	in.Write([]byte{0})
	readAck(t, out)
	in.Close()
	sess.Wait()
	client.Close()

	logs := waitForLogs(t, repo, 1)
	log := logs[0]

	if len(log.Downloads) != 1 {
		t.Fatalf("Expected 1 download record, got %d", len(log.Downloads))
	}
	d := log.Downloads[0]
	if d.URL != "scp://miner.sh" {
		t.Errorf("Expected URL scp://miner.sh, got %q", d.URL)
	}
	sum := sha256.Sum256(payload)
	want := hex.EncodeToString(sum[:])
	if d.SHA256 != want {
		t.Errorf("Expected digest %s, got %s", want, d.SHA256)
	}
	if d.SizeBytes != len(payload) {
		t.Errorf("Expected size %d, got %d", len(payload), d.SizeBytes)
	}
	if !files.Exists(want) {
		t.Error("Expected uploaded bytes in the content store")
	}

	var sawUpload bool
	for _, ev := range log.Events {
		if ev.Kind == "scp_upload" {
			sawUpload = true
		}
	}
	if !sawUpload {
		t.Error("Expected an scp_upload event in the session log")
	}
}

func TestSCPUploadOversizeRejected(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)
	cfg.MaxCaptureBytes = 64
	addr, files := startServer(t, cfg, repo, ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow))

	client, err := dial(t, addr, "root", "x")
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() returned error: %v", err)
	}
	in, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe() returned error: %v", err)
	}
	out, err := sess.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe() returned error: %v", err)
	}
	if err := sess.Start("scp -t /tmp"); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	payload := make([]byte, 128)

	readAck(t, out)
	fmt.Fprintf(in, "C0644 %d big.bin\n", len(payload))

	// An oversize header ends the transfer before the second ack.
	buf := make([]byte, 1)
	if _, err := io.ReadFull(out, buf); err == nil && buf[0] == 0 {
		t.Fatal("Expected oversize transfer to be rejected before ack")
	}
	in.Close()
	sess.Wait()
	client.Close()

	logs := waitForLogs(t, repo, 1)
	if n := len(logs[0].Downloads); n != 0 {
		t.Fatalf("Expected no download records, got %d", n)
	}
	sum := sha256.Sum256(payload)
	if files.Exists(hex.EncodeToString(sum[:])) {
		t.Error("Expected nothing stored for a rejected transfer")
	}
}

// deadChannel fails every write and blocks reads, like a transport whose
// peer vanished mid-session.
type deadChannel struct {
	block chan struct{}
}

func (d *deadChannel) Read(p []byte) (int, error) {
	<-d.block
	return 0, io.EOF
}
func (d *deadChannel) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }
func (d *deadChannel) Close() error                { return nil }
func (d *deadChannel) CloseWrite() error           { return nil }
func (d *deadChannel) SendRequest(string, bool, []byte) (bool, error) {
	return false, io.ErrClosedPipe
}
func (d *deadChannel) Stderr() io.ReadWriter { return nil }

func TestInteractiveEndsWhenTransportDead(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig(t)

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New() returned error: %v", err)
	}
	srv, err := New(cfg, ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow), repo, files, nil, capture.NewHub())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	c := newController(srv, "127.0.0.1", 40022)
	ch := &deadChannel{block: make(chan struct{})}
	defer close(ch.block)

	done := make(chan struct{})
	go func() {
		c.runInteractive(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the interactive loop to end once writes fail")
	}
}
