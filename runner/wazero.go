package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

type wazeroRunner struct {
	logger *slog.Logger
}

// NewWazeroRunner runs jobs as sandboxed WASM modules. The module reads
// its spec from stdin and writes its output as JSON to stdout. Suited to
// verification and estimation routines that must not touch the host.
func NewWazeroRunner(logger *slog.Logger) Runner {
	return &wazeroRunner{logger: logger}
}

func (w *wazeroRunner) Run(ctx context.Context, spec Spec) (Output, *TaskError) {
	binary, err := os.ReadFile(spec.CodePath)
	if err != nil {
		return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
	}

	raw, err := json.Marshal(spec)
	if err != nil {
		return Output{}, &TaskError{Kind: ErrorKindInternal, Message: err.Error()}
	}

	r := wazero.NewRuntime(ctx)
	defer func() {
		if err := r.Close(ctx); err != nil {
			w.logger.Error("failed to close wasm runtime", slog.String("task_id", spec.TaskID), slog.String("error", err.Error()))
		}
	}()

	// Instantiate WASI, which implements host functions needed for TinyGo to
	// implement `panic`.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	stdout := bytes.Buffer{}
	cfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(raw)).
		WithStdout(&stdout).
		WithStderr(os.Stderr)

	if _, err := r.InstantiateWithConfig(ctx, binary, cfg); err != nil {
		w.logger.Error("wasm job failed",
			slog.String("task_id", spec.TaskID),
			slog.String("kind", string(spec.Kind)),
			slog.String("error", err.Error()),
		)

		return Output{}, &TaskError{Kind: ErrorKindCode, Message: err.Error()}
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Output{}, &TaskError{Kind: ErrorKindCode, Message: "invalid job output: " + err.Error()}
	}

	return out, nil
}
