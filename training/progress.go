package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders a single-line terminal progress bar for an epoch
// pass, with elapsed time, ETA, batch rate and running metrics.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar over total batches writing to out.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update advances the bar to step and redraws with the given metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the bar and moves to the next line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	fraction := float64(pb.current) / float64(pb.total)
	if fraction > 1.0 {
		fraction = 1.0
	}

	filled := int(fraction * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if fraction > 0 {
			eta = time.Duration(float64(elapsed)/fraction) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, fraction*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Sorted keys keep the line stable between redraws.
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(k, "accuracy") {
			line += fmt.Sprintf(", %s=%.2f%%", k, pb.metrics[k]*100)
		} else {
			line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
		}
	}
	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats a duration as MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ConsoleProgress returns a ProgressFunc rendering a terminal bar. A fresh
// bar is started for each epoch pass, sized to that pass's batch total, so
// training, validation and test passes each render against their own
// denominator and elapsed time.
func ConsoleProgress(out io.Writer, description string) ProgressFunc {
	var pb *ProgressBar
	return func(batch, total int, runningLoss float64) {
		if pb == nil || batch == 1 {
			pb = NewProgressBar(out, description, total)
		}
		pb.Update(batch, map[string]float64{"loss": runningLoss})
		if batch == total {
			pb.Finish()
			pb = nil
		}
	}
}
