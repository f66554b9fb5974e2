package compare

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Ning0612/dsync/internal/comm"
)

// Stats records the cost of one comparison pass.
type Stats struct {
	Started      time.Time
	Ended        time.Time
	Files        int64
	BytesRead    int64
	BytesWritten int64
}

// Reduce combines every rank's stats: earliest start, latest end, summed
// counters.
func (s Stats) Reduce(ctx context.Context, c comm.Comm) (Stats, error) {
	start, err := comm.AllreduceMin(ctx, c, s.Started.UnixNano())
	if err != nil {
		return Stats{}, err
	}
	end, err := comm.AllreduceMax(ctx, c, s.Ended.UnixNano())
	if err != nil {
		return Stats{}, err
	}
	sums, err := comm.AllreduceSum(ctx, c, s.Files, s.BytesRead, s.BytesWritten)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Started:      time.Unix(0, start),
		Ended:        time.Unix(0, end),
		Files:        sums[0],
		BytesRead:    sums[1],
		BytesWritten: sums[2],
	}, nil
}

// Seconds is the elapsed wall time of the pass.
func (s Stats) Seconds() float64 {
	return s.Ended.Sub(s.Started).Seconds()
}

// Report writes the verbose statistics block.
func (s Stats) Report(w io.Writer) {
	secs := s.Seconds()
	var fileRate, readRate, writeRate float64
	if secs > 0 {
		fileRate = float64(s.Files) / secs
		readRate = float64(s.BytesRead) / secs
		writeRate = float64(s.BytesWritten) / secs
	}

	const layout = "Jan-02-2006, 15:04:05"
	fmt.Fprintf(w, "Started: %s\n", s.Started.Format(layout))
	fmt.Fprintf(w, "Completed: %s\n", s.Ended.Format(layout))
	fmt.Fprintf(w, "Seconds: %.3f\n", secs)
	fmt.Fprintf(w, "Files: %d\n", s.Files)
	fmt.Fprintf(w, "Bytes read: %s (%d bytes)\n", humanize.IBytes(uint64(s.BytesRead)), s.BytesRead)
	fmt.Fprintf(w, "Bytes written: %s (%d bytes)\n", humanize.IBytes(uint64(s.BytesWritten)), s.BytesWritten)
	fmt.Fprintf(w, "Read Rate: %s/s (%d bytes in %.3f seconds)\n", humanize.IBytes(uint64(readRate)), s.BytesRead, secs)
	fmt.Fprintf(w, "Write Rate: %s/s (%d bytes in %.3f seconds)\n", humanize.IBytes(uint64(writeRate)), s.BytesWritten, secs)
	fmt.Fprintf(w, "File Rate: %d items in %f seconds (%f items/sec)\n", s.Files, secs, fileRate)
}
