package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/worklets/internal/config"
)

// output writes command results in the selected format. Diagnostics go to
// the error writer.
type output struct {
	w       io.Writer
	errW    io.Writer
	format  string
	verbose bool
}

func newOutput(cmd *cobra.Command, opts *RootOptions) *output {
	return &output{
		w:       cmd.OutOrStdout(),
		errW:    cmd.ErrOrStderr(),
		format:  opts.Format,
		verbose: opts.Verbose,
	}
}

func (o *output) json() bool {
	return o.format == "json"
}

func (o *output) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(o.w, "%s\n", data)
	return err
}

func (o *output) verbosef(format string, args ...any) {
	if o.verbose {
		fmt.Fprintf(o.errW, format+"\n", args...)
	}
}

// loadConfig loads the configuration named by the global flags.
func loadConfig(opts *RootOptions) (*config.Source, *config.Config, error) {
	var loadOpts []config.LoadOption
	if opts.EnvFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(opts.EnvFile))
	}
	src := config.NewSource(opts.ConfigPath, loadOpts...)
	cfg, err := src.Load()
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "invalid configuration", err)
	}
	return src, cfg, nil
}
