// Package engine materialises input bundles and runs the simulation engine
// on them, either in a container or as a local command.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
	"github.com/hochfrequenz/lake-orchestrator/internal/assemble"
	"github.com/hochfrequenz/lake-orchestrator/internal/config"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
)

// Status is the non-failure result of one execution
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
)

// Outcome describes a finished execution. Failures are reported as errors.
type Outcome struct {
	LakeKey       string
	Status        Status
	WorkDir       string
	ArtifactPaths []string
	Diagnostics   string
	Duration      time.Duration
}

// EngineFailure means the engine exited non-zero or could not be started.
// It is never retried.
type EngineFailure struct {
	LakeKey     string
	ExitCode    int
	Diagnostics string
	Err         error
}

func (e *EngineFailure) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("lake %s: engine exited with code %d", e.LakeKey, e.ExitCode)
	}
	return fmt.Sprintf("lake %s: engine failed: %v", e.LakeKey, e.Err)
}

func (e *EngineFailure) Unwrap() error { return e.Err }

// TimeoutError means the engine exceeded run_timeout and was killed.
type TimeoutError struct {
	LakeKey     string
	Timeout     time.Duration
	Diagnostics string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lake %s: engine timed out after %s", e.LakeKey, e.Timeout)
}

// waitDelay bounds how long Wait blocks on output pipes after a kill.
const waitDelay = 5 * time.Second

// Executor launches the engine as configured in the app config
type Executor struct {
	cfg config.EngineConfig
}

// NewExecutor creates an executor for the given engine settings.
func NewExecutor(cfg config.EngineConfig) *Executor {
	if cfg.LogTail <= 0 {
		cfg.LogTail = 40
	}
	return &Executor{cfg: cfg}
}

// LakeDir returns the directory a lake is materialised into.
func LakeDir(simulationDir, lakeKey string) string {
	return filepath.Join(simulationDir, lakeKey)
}

// Execute materialises bundle and runs the engine on it. With run=false the
// inputs are still written and the manifest is returned as the only
// artifact.
func (e *Executor) Execute(ctx context.Context, bundle *assemble.InputBundle, cfg args.RunConfiguration) (*Outcome, error) {
	key := bundle.Lake.Key
	logger := logging.FromContext(ctx).With("lake", key, "stage", "engine")
	start := time.Now()

	dir, err := filepath.Abs(LakeDir(cfg.SimulationDir, key))
	if err != nil {
		return nil, &EngineFailure{LakeKey: key, Err: err}
	}
	ws, err := Materialize(bundle, dir, MaterializeOptions{
		Overwrite:    cfg.OverwriteSimulation,
		Snapshot:     cfg.Snapshot,
		SnapshotDate: cfg.SnapshotDate,
	})
	if err != nil {
		return nil, &EngineFailure{LakeKey: key, Err: err}
	}
	if ws.Snapshot {
		logger.Info("continuing from snapshot", "date", ws.SnapshotDate)
	}
	logger.Debug("inputs materialised", "dir", dir, "files", len(ws.Files))

	out := &Outcome{LakeKey: key, WorkDir: dir}
	if !cfg.Run {
		out.Status = StatusSkipped
		out.ArtifactPaths = []string{filepath.Join(dir, ManifestFile)}
		out.Duration = time.Since(start)
		logger.Info("engine run skipped")
		return out, nil
	}

	diagnostics, err := e.run(ctx, dir, cfg, key)
	out.Diagnostics = diagnostics
	out.Duration = time.Since(start)
	if err != nil {
		return out, err
	}

	artifacts, err := collectArtifacts(dir)
	if err != nil {
		return out, &EngineFailure{LakeKey: key, Diagnostics: diagnostics, Err: err}
	}
	out.Status = StatusSucceeded
	out.ArtifactPaths = artifacts
	logger.Info("engine run completed", "duration", out.Duration.Round(time.Millisecond), "artifacts", len(artifacts))
	return out, nil
}

// run starts the engine under run_timeout and streams its output to
// engine.log, keeping the last lines as diagnostics.
func (e *Executor) run(ctx context.Context, dir string, cfg args.RunConfiguration, key string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	cmd := e.buildCommand(runCtx, dir, cfg.EngineVersion)
	cmd.WaitDelay = waitDelay

	logFile, err := os.Create(filepath.Join(dir, LogFile))
	if err != nil {
		return "", &EngineFailure{LakeKey: key, Err: fmt.Errorf("creating log file: %w", err)}
	}
	defer logFile.Close()

	// Plain writers, not pipes: Wait must not block on output held open
	// by children of a killed engine.
	output := newOutputSink(logFile, e.cfg.LogTail)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return "", &EngineFailure{LakeKey: key, Err: fmt.Errorf("starting %s: %w", cmd.Path, err)}
	}

	waitErr := cmd.Wait()
	diagnostics := output.Tail()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		diagnostics = strings.TrimSpace(diagnostics + fmt.Sprintf("\nengine killed: run timeout of %s exceeded", cfg.RunTimeout))
		return diagnostics, &TimeoutError{LakeKey: key, Timeout: cfg.RunTimeout, Diagnostics: diagnostics}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return diagnostics, &EngineFailure{LakeKey: key, ExitCode: exitErr.ExitCode(), Diagnostics: diagnostics, Err: waitErr}
		}
		return diagnostics, &EngineFailure{LakeKey: key, Diagnostics: diagnostics, Err: waitErr}
	}
	return diagnostics, nil
}

// buildCommand creates the engine command for the configured mode. In
// docker mode the container is named so it can be killed with the client.
func (e *Executor) buildCommand(ctx context.Context, dir, version string) *exec.Cmd {
	if e.cfg.Mode == "command" {
		argv := append(append([]string(nil), e.cfg.Command...), ParFile)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		// The engine gets its own process group so a timeout kills
		// wrapper scripts and everything they started.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return cmd
	}

	name := "lakesim-" + uuid.NewString()
	argv := []string{"run", "--rm", "--name", name}
	if e.cfg.RunAsUser {
		argv = append(argv, "--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	}
	argv = append(argv, "-v", dir+":/simstrat/run", "-w", "/simstrat/run", e.image(version), ParFile)

	cmd := exec.CommandContext(ctx, e.cfg.DockerBin, argv...)
	cmd.Dir = dir
	cmd.Cancel = func() error {
		exec.Command(e.cfg.DockerBin, "kill", name).Run()
		return cmd.Process.Kill()
	}
	return cmd
}

func (e *Executor) image(version string) string {
	if version == "" || strings.Contains(e.cfg.Image, ":") {
		return e.cfg.Image
	}
	return e.cfg.Image + ":" + version
}

// outputSink receives engine stdout and stderr, appending complete lines
// to the log and keeping the last n as diagnostics.
type outputSink struct {
	mu      sync.Mutex
	log     io.Writer
	tail    *lineTail
	partial []byte
}

func newOutputSink(log io.Writer, n int) *outputSink {
	return &outputSink{log: log, tail: newTail(n)}
}

func (o *outputSink) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.partial = append(o.partial, p...)
	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}
		o.line(string(o.partial[:i]))
		o.partial = o.partial[i+1:]
	}
	return len(p), nil
}

func (o *outputSink) line(l string) {
	io.WriteString(o.log, l+"\n")
	o.tail.Add(strings.TrimSuffix(l, "\r"))
}

// Tail flushes any unterminated line and returns the kept lines.
func (o *outputSink) Tail() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.partial) > 0 {
		o.line(string(o.partial))
		o.partial = nil
	}
	return o.tail.String()
}

// collectArtifacts lists the engine results plus the input manifest.
func collectArtifacts(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(filepath.Join(dir, ResultsDir), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting results: %w", err)
	}
	sort.Strings(out)
	return append(out, filepath.Join(dir, ManifestFile)), nil
}

// lineTail keeps the last n lines written to it
type lineTail struct {
	lines []string
	n     int
}

func newTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) Add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}
