// Package server accepts SSH connections and drives each one through the
// deception session lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/avetisov/honeyshell/internal/capture"
	"github.com/avetisov/honeyshell/internal/config"
	"github.com/avetisov/honeyshell/internal/fetch"
	"github.com/avetisov/honeyshell/internal/filestore"
	"github.com/avetisov/honeyshell/internal/ratelimit"
	"github.com/avetisov/honeyshell/internal/store"
)

// Server owns the listener, the admission gate, and the collaborators
// handed to each session controller.
type Server struct {
	cfg     *config.Config
	hostKey ssh.Signer
	limiter *ratelimit.Limiter
	repo    store.Repository
	files   *filestore.Store
	fetcher fetch.Fetcher
	hub     *capture.Hub
}

// New creates a server, loading or generating the host key.
func New(cfg *config.Config, limiter *ratelimit.Limiter, repo store.Repository,
	files *filestore.Store, fetcher fetch.Fetcher, hub *capture.Hub) (*Server, error) {

	hostKey, err := loadOrGenHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("host key: %w", err)
	}

	return &Server{
		cfg:     cfg,
		hostKey: hostKey,
		limiter: limiter,
		repo:    repo,
		files:   files,
		fetcher: fetcher,
		hub:     hub,
	}, nil
}

// ListenAndServe binds the configured address and serves until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is canceled. Admission
// control runs before any session state is allocated: a rejected
// connection is dropped with no session object and no log entry.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("SSH honeypot listening", "addr", ln.Addr().String())

	// Global cap on concurrent sessions, independent of the per-IP window.
	sem := make(chan struct{}, s.cfg.MaxConns)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Accept failed", "error", err)
			continue
		}

		ip, port := splitAddr(conn.RemoteAddr())

		if !s.limiter.Admit(ip) {
			slog.Warn("Rate limit exceeded, dropping connection", "ip", ip)
			conn.Close()
			continue
		}

		select {
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				s.handleConn(ctx, conn, ip, port)
			}()
		default:
			slog.Warn("Connection limit reached, dropping connection", "ip", ip)
			conn.Close()
		}
	}
}

// handleConn runs one connection's controller start to finish.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, ip string, port int) {
	defer conn.Close()

	c := newController(s, ip, port)
	defer c.close()

	slog.Info("Connection accepted", "ip", ip, "session_id", c.recorder.SessionID())

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, c.sshConfig())
	if err != nil {
		// Handshake failures still finalize whatever was recorded, so
		// credential spraying against a broken client is not lost.
		slog.Debug("Handshake failed", "ip", ip, "error", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			break
		}
		c.handleChannel(ctx, ch, chReqs)
	}
}

func splitAddr(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
