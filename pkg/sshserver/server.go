// Package sshserver exposes sandbox sessions over SSH. The SSH user name
// selects the session, so reconnecting as the same user resumes the same
// workspace.
package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"golang.org/x/term"

	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
	"github.com/aroudaki/app-builder-sub001/pkg/sessions"
)

// DefaultPort is the port used when Config.Port is zero.
const DefaultPort = 2222

type Server struct {
	srv  *ssh.Server
	addr string
}

type Config struct {
	Host        string
	Port        int
	HostKeyPath string
	IdleTimeout time.Duration
	MaxTimeout  time.Duration
	Middleware  []wish.Middleware
}

func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        DefaultPort,
		IdleTimeout: 30 * time.Minute,
		MaxTimeout:  2 * time.Hour,
	}
}

func (c Config) Validate() error {
	if net.ParseIP(c.Host) == nil {
		return fmt.Errorf("invalid host IP: %s", c.Host)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	addr := net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is not available: %w", c.Port, err)
	}
	ln.Close()

	if c.HostKeyPath != "" {
		if info, err := os.Stat(c.HostKeyPath); err == nil && info.IsDir() {
			return fmt.Errorf("host key path is a directory: %s", c.HostKeyPath)
		}
	}

	if c.IdleTimeout < 0 {
		return errors.New("idle-timeout must be positive")
	}

	if c.MaxTimeout < 0 {
		return errors.New("max-timeout must be positive")
	}

	if c.MaxTimeout > 0 && c.IdleTimeout > 0 && c.IdleTimeout > c.MaxTimeout {
		return errors.New("idle-timeout cannot exceed max-timeout")
	}

	return nil
}

// New creates a server whose sessions run in sandboxes from registry.
func New(cfg Config, registry *sessions.Registry) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))

	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithIdleTimeout(cfg.IdleTimeout),
		wish.WithMaxTimeout(cfg.MaxTimeout),
	}

	if cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(cfg.HostKeyPath))
	}

	middleware := []wish.Middleware{logging.Middleware()}
	if len(cfg.Middleware) > 0 {
		middleware = append(cfg.Middleware, middleware...)
	}
	opts = append(opts, wish.WithMiddleware(middleware...))

	srv, err := wish.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	srv.Handler = Handler(registry)

	return &Server{
		srv:  srv,
		addr: addr,
	}, nil
}

func (s *Server) Start() error {
	slog.Info("starting ssh server", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Serve accepts connections on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("starting ssh server", "addr", ln.Addr().String())
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down ssh server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.addr
}

// sessionID maps the SSH user to a session id, falling back to a fresh id
// for names the engine could not use.
func sessionID(user string) string {
	if identity.ValidateSessionID(user) == nil {
		return user
	}
	return identity.NewSessionID()
}

// Handler runs each SSH session against the user's sandbox. A command sent
// with the connection runs once and its exit code is returned; otherwise an
// interactive shell is started. Ending a shell with logout removes the
// session from the registry.
func Handler(registry *sessions.Registry) ssh.Handler {
	return func(s ssh.Session) {
		sid := sessionID(s.User())
		logger := slog.With("session", sid, "remote", s.RemoteAddr().String())

		sb, err := registry.Get(s.Context(), sid)
		if err != nil {
			logger.Warn("Failed to open sandbox", "error", err)
			fmt.Fprintf(s.Stderr(), "failed to open sandbox: %v\n", err)
			_ = s.Exit(1)
			return
		}

		if cmd := s.RawCommand(); cmd != "" {
			res, err := sb.ExecuteCommand(s.Context(), cmd)
			if err != nil {
				fmt.Fprintf(s.Stderr(), "error: %v\n", err)
				_ = s.Exit(1)
				return
			}
			io.WriteString(s, res.Stdout)
			io.WriteString(s.Stderr(), res.Stderr)
			_ = s.Exit(res.ExitCode)
			return
		}

		if _, _, isPty := s.Pty(); isPty {
			err = interactive(s.Context(), s, sb)
		} else {
			err = sessions.REPL(s.Context(), s, s, s.Stderr(), sb)
		}
		if errors.Is(err, sessions.ErrLogout) {
			if err := registry.Remove(context.WithoutCancel(s.Context()), sid); err != nil {
				logger.Warn("Failed to remove session", "error", err)
			}
			fmt.Fprintf(s, "Session %s closed.\n", sid)
		} else if err != nil {
			logger.Debug("Shell ended with error", "error", err)
		}
		_ = s.Exit(0)
	}
}

// interactive runs a line-edited shell for clients that requested a PTY.
func interactive(ctx context.Context, rw io.ReadWriter, sb sandbox.Sandbox) error {
	t := term.NewTerminal(rw, sessions.Prompt(sb))
	for {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if sessions.IsLogout(line) {
			return sessions.ErrLogout
		}
		if sessions.IsExit(line) {
			return nil
		}

		res, err := sb.ExecuteCommand(ctx, line)
		if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		} else {
			io.WriteString(t, res.Stdout)
			io.WriteString(t, res.Stderr)
		}
		t.SetPrompt(sessions.Prompt(sb))
	}
}
