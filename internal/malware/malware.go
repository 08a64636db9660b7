// Package malware scans uploaded mod archives with ClamAV running in a
// Docker container. Scanning is an optional pre-validation gate: an
// upload that carries a known threat is rejected before any manifest
// rule runs.
package malware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrDockerUnavailable = errors.New("docker command not available")
	ErrNoThreatsInOutput = errors.New("malware detected but no threats found in output")
)

// DefaultImage is the ClamAV container image pulled when none is
// configured.
const DefaultImage = "clamav/clamav:stable"

// CommandRunner executes external commands. Tests substitute a double.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual system commands.
type RealCommandRunner struct{}

func (RealCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Report is the outcome of scanning one upload.
type Report struct {
	Clean         bool
	Threats       []string
	EngineVersion string
	Duration      time.Duration
}

// Scanner checks uploads for malware.
type Scanner interface {
	Scan(ctx context.Context, name string, upload []byte) (Report, error)
}

// ClamAV scans uploads with clamscan inside a Docker container. The
// upload is staged into a temporary directory that is mounted read-only
// into the container.
type ClamAV struct {
	runner CommandRunner
	image  string
	log    *slog.Logger
}

// NewClamAV creates a Docker-backed scanner. A nil logger falls back to
// slog.Default; an empty image falls back to DefaultImage.
func NewClamAV(runner CommandRunner, image string, log *slog.Logger) *ClamAV {
	if runner == nil {
		runner = RealCommandRunner{}
	}
	if image == "" {
		image = DefaultImage
	}
	if log == nil {
		log = slog.Default()
	}
	return &ClamAV{runner: runner, image: image, log: log}
}

// Scan stages the upload on disk and runs clamscan over it.
func (s *ClamAV) Scan(ctx context.Context, name string, upload []byte) (Report, error) {
	start := time.Now()

	if _, err := s.runner.Run(ctx, "docker", "--version"); err != nil {
		return Report{}, ErrDockerUnavailable
	}
	if err := s.ensureImage(ctx); err != nil {
		return Report{}, err
	}

	engine, err := s.engineVersion(ctx)
	if err != nil {
		s.log.Warn("could not determine scanner version", "error", err)
		engine = "unknown"
	}

	dir, err := os.MkdirTemp("", "modvet-scan-*")
	if err != nil {
		return Report{}, fmt.Errorf("failed to stage upload: %w", err)
	}
	defer os.RemoveAll(dir)

	staged := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(staged, upload, 0o600); err != nil {
		return Report{}, fmt.Errorf("failed to stage upload: %w", err)
	}

	output, err := s.runner.Run(ctx, "docker",
		"run", "--rm",
		"-v", fmt.Sprintf("%s:/scan:ro", dir),
		s.image,
		"clamscan", "--stdout", "/scan")

	// clamscan exits 0 when clean, 1 when infected, 2+ on error.
	exitCode := 0
	if err != nil {
		exitCode = extractExitCode(err)
		if exitCode < 0 || exitCode > 1 {
			return Report{}, fmt.Errorf("failed to run clamscan: %w", err)
		}
	}

	report := Report{
		Clean:         exitCode == 0,
		EngineVersion: engine,
	}
	if !report.Clean {
		report.Threats = extractThreats(string(output))
		if len(report.Threats) == 0 {
			return report, ErrNoThreatsInOutput
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (s *ClamAV) engineVersion(ctx context.Context) (string, error) {
	output, err := s.runner.Run(ctx, "docker", "run", "--rm", s.image, "clamscan", "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (s *ClamAV) ensureImage(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, "docker", "image", "inspect", s.image); err == nil {
		return nil
	}
	if _, err := s.runner.Run(ctx, "docker", "pull", s.image); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", s.image, err)
	}
	return nil
}

// extractThreats collects threat names from "path: Name FOUND" lines.
func extractThreats(output string) []string {
	var threats []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, " FOUND") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSuffix(strings.TrimSpace(parts[1]), " FOUND")
		threats = append(threats, strings.TrimSpace(name))
	}
	return threats
}

// extractExitCode returns the command's exit code, or -1 when the error
// carries none (context cancelled, binary missing).
func extractExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	type exitCoder interface {
		ExitCode() int
	}
	if coder, ok := err.(exitCoder); ok {
		return coder.ExitCode()
	}
	return -1
}
