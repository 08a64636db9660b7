package malware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

// scriptedRunner answers each invocation from a per-command script keyed
// on the joined argument list.
type scriptedRunner struct {
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, key)
	for prefix, err := range r.errs {
		if strings.HasPrefix(key, prefix) {
			return r.outputs[prefix], err
		}
	}
	for prefix, out := range r.outputs {
		if strings.HasPrefix(key, prefix) {
			return out, nil
		}
	}
	return nil, nil
}

// exitError mimics a command exiting with a specific status.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScan_Clean(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{
			"docker run --rm clamav/clamav:stable clamscan --version": []byte("ClamAV 1.5.1/27805/Mon Oct 27 09:50:30 2025\n"),
		},
	}

	scanner := NewClamAV(runner, "", testLogger())
	report, err := scanner.Scan(context.Background(), "mod.zip", []byte("upload"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !report.Clean {
		t.Error("expected a clean report")
	}
	if len(report.Threats) != 0 {
		t.Errorf("clean report must carry no threats, got %v", report.Threats)
	}
	if report.EngineVersion != "ClamAV 1.5.1/27805/Mon Oct 27 09:50:30 2025" {
		t.Errorf("unexpected engine version: %q", report.EngineVersion)
	}
}

func TestScan_Infected(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{
			"docker run --rm -v": []byte("/scan/mod.zip: Eicar-Signature FOUND\n\n----------- SCAN SUMMARY -----------\nInfected files: 1\n"),
		},
		errs: map[string]error{
			"docker run --rm -v": exitError{code: 1},
		},
	}

	scanner := NewClamAV(runner, "", testLogger())
	report, err := scanner.Scan(context.Background(), "mod.zip", []byte("upload"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Clean {
		t.Error("expected an infected report")
	}
	if !reflect.DeepEqual(report.Threats, []string{"Eicar-Signature"}) {
		t.Errorf("unexpected threats: %v", report.Threats)
	}
}

func TestScan_InfectedWithoutThreatLines(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{
			"docker run --rm -v": []byte("no details\n"),
		},
		errs: map[string]error{
			"docker run --rm -v": exitError{code: 1},
		},
	}

	scanner := NewClamAV(runner, "", testLogger())
	if _, err := scanner.Scan(context.Background(), "mod.zip", []byte("upload")); !errors.Is(err, ErrNoThreatsInOutput) {
		t.Errorf("expected ErrNoThreatsInOutput, got %v", err)
	}
}

func TestScan_DockerUnavailable(t *testing.T) {
	runner := &scriptedRunner{
		errs: map[string]error{
			"docker --version": errors.New("docker: command not found"),
		},
	}

	scanner := NewClamAV(runner, "", testLogger())
	if _, err := scanner.Scan(context.Background(), "mod.zip", []byte("upload")); !errors.Is(err, ErrDockerUnavailable) {
		t.Errorf("expected ErrDockerUnavailable, got %v", err)
	}
}

func TestScan_ScannerError(t *testing.T) {
	// Exit codes above 1 mean the scanner itself failed.
	runner := &scriptedRunner{
		errs: map[string]error{
			"docker run --rm -v": exitError{code: 2},
		},
	}

	scanner := NewClamAV(runner, "", testLogger())
	if _, err := scanner.Scan(context.Background(), "mod.zip", []byte("upload")); err == nil {
		t.Error("expected a scanner failure")
	}
}

func TestScan_PullsMissingImage(t *testing.T) {
	runner := &scriptedRunner{
		errs: map[string]error{
			"docker image inspect": errors.New("no such image"),
		},
	}

	scanner := NewClamAV(runner, "custom/clamav:1", testLogger())
	if _, err := scanner.Scan(context.Background(), "mod.zip", []byte("upload")); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	pulled := false
	for _, call := range runner.calls {
		if call == "docker pull custom/clamav:1" {
			pulled = true
		}
	}
	if !pulled {
		t.Errorf("expected the image to be pulled, calls: %v", runner.calls)
	}
}

func TestExtractThreats(t *testing.T) {
	output := "/scan/a.zip: Win.Test.EICAR_HDB-1 FOUND\n" +
		"/scan/b.zip: OK\n" +
		"/scan/c.zip: Unix.Trojan.Generic FOUND\n"

	threats := extractThreats(output)
	want := []string{"Win.Test.EICAR_HDB-1", "Unix.Trojan.Generic"}
	if !reflect.DeepEqual(threats, want) {
		t.Errorf("expected %v, got %v", want, threats)
	}
}
