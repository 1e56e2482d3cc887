//go:build windows

package errortelemetry

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isBrokenPipe matches the errors returned by WriteFile for a pipe whose
// reading end has been closed.
func isBrokenPipe(err error) bool {
	return errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_NO_DATA)
}
