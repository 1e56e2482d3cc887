//go:build !unix && !windows

package errortelemetry

func isBrokenPipe(error) bool { return false }
