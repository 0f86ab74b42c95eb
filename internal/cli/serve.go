package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/worklets/internal/app"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Script      string
	Watch       bool
	MetricsAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worklet runtime until interrupted",
		Long: `Run the worklet runtime with its frame loop. Events can be posted over HTTP
when the metrics server is enabled:

  curl -X POST localhost:9090/events/onTap -d '{"x": 1}'

Log level, error mode and frame rate are reloaded when the config file
changes.

Examples:
  workletd serve --config workletd.toml
  workletd serve --script app.js --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Script, "script", "s", "", "script to load (default: runtime.script)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "reload the config file when it changes")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics and events on this address")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	src, cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	application, err := app.New(cfg, app.Options{
		Source:    src,
		Watch:     opts.Watch && opts.ConfigPath != "",
		Script:    opts.Script,
		LogOutput: cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "stopped", err)
	}
	return nil
}

