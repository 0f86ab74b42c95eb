package cli

import (
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/worklets/internal/config"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the resolved settings",
		Long: `Load the configuration file, the .env file and WORKLETS_* environment
variables, validate the merged result and print it as TOML.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid

Examples:
  workletd check --config workletd.toml
  WORKLETS_FRAME_FPS=30 workletd check --config workletd.toml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	out := newOutput(cmd, opts)
	_, cfg, err := loadConfig(opts)
	if err != nil {
		problems := validationMessages(err)
		if out.json() {
			if werr := out.writeJSON(map[string]any{"valid": false, "errors": problems}); werr != nil {
				return werr
			}
		} else {
			for _, p := range problems {
				fmt.Fprintln(out.w, p)
			}
		}
		return err
	}

	if out.json() {
		return out.writeJSON(map[string]any{"valid": true, "path": opts.ConfigPath})
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "render configuration", err)
	}
	_, err = out.w.Write(data)
	return err
}

// validationMessages flattens joined validation errors into one message
// per problem.
func validationMessages(err error) []string {
	var msgs []string
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case *config.ValidationError:
			msgs = append(msgs, x.Error())
		default:
			var ve *config.ValidationError
			if next := errors.Unwrap(e); next != nil && errors.As(next, &ve) {
				walk(next)
				return
			}
			msgs = append(msgs, e.Error())
		}
	}
	walk(err)
	return msgs
}
