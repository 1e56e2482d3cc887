package errortelemetry

import (
	"errors"
	"io/fs"
	"net"
	"os"
)

// IsBrokenPipeWrite returns true if err is a write that failed because the
// reading end of a pipe or socket was closed. Writing the report of such an
// error would typically fail the same way.
func IsBrokenPipeWrite(err error) bool {
	if err == nil {
		return false
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && pathErr.Op == "write" && isBrokenPipe(pathErr.Err) {
		return true
	}

	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) && syscallErr.Syscall == "write" && isBrokenPipe(syscallErr.Err) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "write" && isBrokenPipe(opErr.Err) {
		return true
	}

	return false
}
