package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/schollz/progressbar/v3"
)

// renderProgress draws one bar per transfer job seen on updates until ctx
// ends or the channel closes. With once set it returns after the first job
// finishes.
func renderProgress(ctx context.Context, w io.Writer, updates <-chan bus.TransferStatus, once bool) {
	bars := make(map[string]*progressbar.ProgressBar)
	done := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if st.JobID == "" {
				continue
			}
			if _, finished := done[st.JobID]; finished {
				continue
			}

			bar, ok := bars[st.JobID]
			if !ok {
				bar = newBar(w, st)
				bars[st.JobID] = bar
			}
			_ = bar.Set64(st.Bytes)

			if st.Terminal() {
				done[st.JobID] = struct{}{}
				delete(bars, st.JobID)
				if st.State == bus.TransferCompleted {
					_ = bar.Finish()
					fmt.Fprintf(w, "\n%s %s: done\n", verb(st.Direction), st.FileName)
				} else {
					_ = bar.Exit()
					fmt.Fprintf(w, "\n%s %s: failed: %v\n", verb(st.Direction), st.FileName, st.Err)
				}
				if once {
					return
				}
			}
		}
	}
}

func newBar(w io.Writer, st bus.TransferStatus) *progressbar.ProgressBar {
	// the receiver learns the size only from the final frame
	size := st.Size
	if size <= 0 {
		size = -1
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", verb(st.Direction), st.FileName)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(0),
	)
}

func verb(d bus.Direction) string {
	if d == bus.Receive {
		return "receiving"
	}
	return "sending"
}
