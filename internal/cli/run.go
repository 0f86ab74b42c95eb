package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/worklets/internal/app"
	"github.com/dshills/worklets/internal/native"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Script string
	Events string
	Engine string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a script and replay an event stream through it",
		Long: `Load a script on the JS runtime, replay a JSON-lines event stream against
the worklets it registers and print snapshots of the shared store.

Each line of the stream is one record:
  {"event": "onTap", "ts": 16, "payload": {"x": 1}}
  {"tag": 7, "type": "topScroll", "payload": {"y": 40}}
  {"render": 32}
  {"set": {"progress": 0.5}}
  {"snapshot": true}

The final store is always printed.

Exit codes:
  0 - Replay finished without worklet errors
  1 - Worklet errors were reported, or the script failed
  2 - Command error (unreadable files, malformed records)

Examples:
  workletd run --script app.js --events taps.jsonl
  cat taps.jsonl | workletd run --script app.lua --engine lua --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Script, "script", "s", "", "script to load (default: runtime.script)")
	cmd.Flags().StringVarP(&opts.Events, "events", "e", "-", "event stream file, - for stdin")
	cmd.Flags().StringVar(&opts.Engine, "engine", "", "runtime engine (js|lua), overrides runtime.engine")

	return cmd
}

func runReplay(opts *RunOptions, cmd *cobra.Command) error {
	out := newOutput(cmd, opts.RootOptions)
	_, cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Engine != "" {
		cfg.Runtime.Engine = opts.Engine
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	scriptPath := opts.Script
	if scriptPath == "" {
		scriptPath = cfg.Runtime.Script
	}
	if scriptPath == "" {
		return NewExitError(ExitCommandError, "no script: pass --script or set runtime.script")
	}
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read script", err)
	}

	events, closeEvents, err := openEvents(cmd, opts.Events)
	if err != nil {
		return WrapExitError(ExitCommandError, "open events", err)
	}
	defer closeEvents()

	level := app.ParseLogLevel(cfg.Logging.Level)
	if opts.Verbose {
		level = app.LogLevelDebug
	}
	logger := app.NewLogger(app.LoggerConfig{
		Level:  level,
		Format: app.LogFormat(cfg.Logging.Format),
		Output: cmd.ErrOrStderr(),
		Prefix: "workletd",
	})

	module, err := native.New(native.Config{
		Engine:      cfg.EngineKind(),
		CallTimeout: cfg.Runtime.CallTimeout.Duration,
		QueueSize:   cfg.Runtime.QueueSize,
		ErrorMode:   cfg.ErrorMode(),
	}, native.WithLogger(logger.WithComponent("native")))
	if err != nil {
		return WrapExitError(ExitCommandError, "create module", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan error, 1)
	go func() { done <- module.Scheduler().Run(ctx) }()
	defer func() {
		_ = module.Close()
		cancel()
		<-done
	}()

	if err := module.Eval(ctx, filepath.Base(scriptPath), string(script)); err != nil {
		return WrapExitError(ExitFailure, "script failed", err)
	}
	if err := module.Flush(ctx); err != nil {
		return WrapExitError(ExitCommandError, "flush", err)
	}

	r := newReplayer(module, out)
	if err := r.replay(ctx, events); err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}
	if err := module.Flush(ctx); err != nil {
		return WrapExitError(ExitCommandError, "flush", err)
	}
	if err := r.snapshot(); err != nil {
		return WrapExitError(ExitCommandError, "snapshot", err)
	}

	reported := module.ErrorHandler().Count()
	out.verbosef("replayed %d records, %d failed, %d worklet errors reported", r.records, r.failures, reported)
	if reported > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d worklet errors reported", reported))
	}
	return nil
}

func openEvents(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
