package training

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressBarRendersFractionAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "epoch 1", 4)

	pb.Update(2, map[string]float64{"loss": 0.5, "accuracy": 0.75})
	out := buf.String()

	if !strings.Contains(out, "2/4") {
		t.Errorf("output missing batch fraction: %q", out)
	}
	if !strings.Contains(out, "loss=0.5000") {
		t.Errorf("output missing loss: %q", out)
	}
	if !strings.Contains(out, "accuracy=75.00%") {
		t.Errorf("output missing percent-formatted accuracy: %q", out)
	}

	pb.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish did not terminate the line")
	}
}

func TestConsoleProgressStartsFreshBarPerPass(t *testing.T) {
	var buf bytes.Buffer
	progress := ConsoleProgress(&buf, "run")

	// A training pass of 3 batches followed by a validation pass of 2.
	// Each pass must render against its own total and finish its line.
	for batch := 1; batch <= 3; batch++ {
		progress(batch, 3, 0.5)
	}
	for batch := 1; batch <= 2; batch++ {
		progress(batch, 2, 0.4)
	}

	out := buf.String()
	if !strings.Contains(out, "3/3") {
		t.Errorf("training pass did not complete against its total: %q", out)
	}
	if !strings.Contains(out, "2/2") {
		t.Errorf("validation pass did not render against its own total: %q", out)
	}
	if got := strings.Count(out, "\n"); got != 2 {
		t.Errorf("finished lines = %d, expected one per pass", got)
	}
}
