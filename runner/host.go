package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

type hostRunner struct {
	interpreter string
	workDir     string
	logger      *slog.Logger
}

// NewHostRunner runs jobs as subprocesses of the given interpreter. The
// spec is passed as a JSON file and the interpreter writes its output as
// JSON next to it.
func NewHostRunner(logger *slog.Logger, interpreter, workDir string) Runner {
	return &hostRunner{
		interpreter: interpreter,
		workDir:     workDir,
		logger:      logger,
	}
}

func (h *hostRunner) Run(ctx context.Context, spec Spec) (Output, *TaskError) {
	dir, err := os.MkdirTemp(h.workDir, "job-"+string(spec.Kind)+"-")
	if err != nil {
		return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			h.logger.Error("failed to remove job directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}()

	specPath := filepath.Join(dir, "spec.json")
	outPath := filepath.Join(dir, "output.json")

	raw, err := json.Marshal(spec)
	if err != nil {
		return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
	}
	if err := os.WriteFile(specPath, raw, 0o600); err != nil {
		return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
	}

	cmd := exec.CommandContext(ctx, h.interpreter, spec.CodePath, specPath, outPath)
	stderr := bytes.Buffer{}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Output{}, &TaskError{Kind: ErrorKindInternal, Message: ctx.Err().Error()}
		}
		h.logger.Error("job process failed",
			slog.String("task_id", spec.TaskID),
			slog.String("kind", string(spec.Kind)),
			slog.String("error", err.Error()),
		)

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Output{}, &TaskError{
				Kind:    ErrorKindCode,
				Message: fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), stderr.String()),
			}
		}

		return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
	}

	raw, err = os.ReadFile(outPath)
	if err != nil {
		return Output{}, &TaskError{Kind: ErrorKindCode, Message: "job produced no output: " + err.Error()}
	}

	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Output{}, &TaskError{Kind: ErrorKindCode, Message: "invalid job output: " + err.Error()}
	}

	// Move produced weights out of the job directory before it is removed.
	if out.WeightsPath != "" {
		kept := filepath.Join(h.workDir, spec.TaskID+"-"+string(spec.Kind)+"-weights")
		if err := os.Rename(out.WeightsPath, kept); err != nil {
			return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
		}
		out.WeightsPath = kept
	}

	return out, nil
}
