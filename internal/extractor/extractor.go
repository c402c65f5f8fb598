// Package extractor runs the external tool that turns JavaScript parser
// sources into the JSON record list.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/parserport/internal"
)

const (
	DefaultCommand        = "node generate_json.js"
	DefaultInstallCommand = "npm install"
	DefaultTimeout        = 5 * time.Minute
)

// ErrSourceDirNotFound is returned when the sources directory is missing.
var ErrSourceDirNotFound = errors.New("source directory not found")

type Config struct {
	// Command is run through sh -c in WorkDir.
	Command string `mapstructure:"command"`
	// InstallCommand prepares the tool when WorkDir has no node_modules.
	InstallCommand string        `mapstructure:"install_command"`
	WorkDir        string        `mapstructure:"work_dir"`
	SourceDir      string        `mapstructure:"source_dir"`
	Output         string        `mapstructure:"output"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type Runner struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Runner {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// OutputPath is where the extraction command writes its records.
func (r *Runner) OutputPath() string {
	return r.resolve(r.cfg.Output)
}

// Run checks the source directory, executes the command and returns its stdout.
func (r *Runner) Run(ctx context.Context) (string, error) {
	dir := r.resolve(r.cfg.SourceDir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSourceDirNotFound, r.cfg.SourceDir)
	}
	return r.exec(ctx, r.cfg.Command)
}

// Extract runs the command and loads the records it produced.
func (r *Runner) Extract(ctx context.Context) ([]internal.ParserRecord, error) {
	if _, err := r.Run(ctx); err != nil {
		return nil, err
	}
	return internal.LoadRecordsFile(r.OutputPath())
}

// EnsureDeps runs the install command once when node_modules is absent.
func (r *Runner) EnsureDeps(ctx context.Context) error {
	if r.cfg.InstallCommand == "" {
		return nil
	}
	if _, err := os.Stat(r.resolve("node_modules")); err == nil {
		return nil
	}
	r.logger.Info("installing extractor dependencies", zap.String("command", r.cfg.InstallCommand))
	_, err := r.exec(ctx, r.cfg.InstallCommand)
	return err
}

func (r *Runner) exec(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.cfg.WorkDir
	// Children of sh may hold the output pipes after it is killed.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("command finished",
		zap.String("command", command),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command %q timed out after %s", command, r.cfg.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("command %q failed: %w", command, err)
		}
		return "", fmt.Errorf("command %q failed: %w: %s", command, err, msg)
	}
	return stdout.String(), nil
}

func (r *Runner) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || r.cfg.WorkDir == "" {
		return p
	}
	return filepath.Join(r.cfg.WorkDir, p)
}
