package planrunner

import (
	"fmt"

	"github.com/ironham/conductor/internal/gitres"
)

// logFunc adapts the Runner's injected logger to gitres.LogFunc, nil-safe
// like every other component's logger wiring.
func (r *Runner) logFunc() gitres.LogFunc {
	if r.deps.Logger == nil {
		return nil
	}
	return func(format string, args ...any) { r.deps.Logger.Debug(fmt.Sprintf(format, args...)) }
}
