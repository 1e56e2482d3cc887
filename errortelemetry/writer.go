package errortelemetry

import (
	"io"
	"sync/atomic"

	"github.com/joeycumines/go-errortelemetry/eventloop"
)

// reportingWriter raises write failures as uncaught exceptions on the loop.
// After a failure, further failures are not raised until a write succeeds,
// so reporting an error that fails to write can't feed back indefinitely.
type reportingWriter struct {
	w       io.Writer
	loop    *eventloop.Loop
	failing atomic.Bool
}

func (x *reportingWriter) Write(p []byte) (int, error) {
	n, err := x.w.Write(p)
	if err != nil {
		if x.failing.CompareAndSwap(false, true) {
			x.loop.ReportUncaughtException(err)
		}
		return n, err
	}
	x.failing.Store(false)
	return n, nil
}
