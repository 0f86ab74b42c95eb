package lua

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/worklets/internal/engine"
)

// ErrNotAFunction is returned when compiled source does not evaluate to a function.
var ErrNotAFunction = errors.New("lua source did not evaluate to a function")

// toException converts a gopher-lua error into an engine.Exception.
func toException(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := ""
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		if msg == "" {
			msg = err.Error()
		}
		return engine.NewException(msg, apiErr.StackTrace, err)
	}
	return engine.NewException(err.Error(), "", err)
}

// timeoutError reports a cancelled call.
func timeoutError(name string, err error) error {
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Errorf("%w: %s: %s", engine.ErrCallTimeout, name, strings.TrimSpace(err.Error()))
}
