package traefikproc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/jupyterhub/traefik-routing-controller/internal/config"
	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
)

// Supervisor manages the lifecycle of an embedded Traefik child
// process: spawn, pipe its logs through a rotating writer, poll its
// admin API until it answers, and stop it on shutdown. Grounded on the
// teacher's internal/container.Manager.waitForContainer
// poll-until-running loop and the SIGTERM-then-SIGKILL shutdown shape
// implied by its stop/rm sequencing, adapted from a container runtime
// CLI to a direct child process.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewSupervisor constructs a Supervisor. Start does not consult
// cfg.Traefik.ShouldStart; callers check ShouldManage (or the flag
// itself) before calling Start.
func NewSupervisor(cfg *config.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger}
}

// ShouldManage reports whether this controller is responsible for
// starting and stopping Traefik itself.
func (s *Supervisor) ShouldManage() bool {
	return s.cfg.Traefik.ShouldStart
}

// Start writes the static configuration, launches the Traefik binary,
// and blocks until its admin API responds to /ping or
// cfg.Traefik.StartupTimeout elapses.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := WriteStaticConfig(s.cfg); err != nil {
		return ctlerrors.New("traefikproc.Start", ctlerrors.StartupFailed, "", err)
	}

	accessLog := &lumberjack.Logger{
		Filename:   "/var/log/traefik/controller-supervisor.log",
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
	log := logrus.New()
	log.SetOutput(accessLog)

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, s.cfg.Traefik.BinaryPath, "--configfile="+s.cfg.Backend.StaticConfigFile)
	cmd.Stdout = accessLog
	cmd.Stderr = accessLog

	if err := cmd.Start(); err != nil {
		cancel()
		return ctlerrors.New("traefikproc.Start", ctlerrors.StartupFailed, "", fmt.Errorf("spawn traefik: %w", err))
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			log.WithError(err).Warn("traefik process exited")
		}
		cancel()
	}()

	if err := s.waitForReady(ctx); err != nil {
		_ = s.Stop(context.Background())
		return ctlerrors.New("traefikproc.Start", ctlerrors.StartupFailed, "", err)
	}

	s.logger.Info("traefik process started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("binary", s.cfg.Traefik.BinaryPath))
	return nil
}

// waitForReady polls the admin entry point's /ping endpoint.
func (s *Supervisor) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.Traefik.StartupTimeout)
	client := &http.Client{Timeout: 2 * time.Second}
	pingURL := s.cfg.Traefik.APIURL + "/ping"

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("traefik did not become ready within %s", s.cfg.Traefik.StartupTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM to the child process and escalates to SIGKILL if
// it hasn't exited within cfg.Traefik.ShutdownGracePeriod.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to send SIGTERM to traefik", slog.String("error", err.Error()))
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.Traefik.ShutdownGracePeriod):
		s.logger.Warn("traefik did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("traefikproc: kill: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
