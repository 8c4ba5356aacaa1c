package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

func TestTagPlotterStartStop(t *testing.T) {
	tp := NewTagPlotter()
	if tp.IsEnabled() {
		t.Error("new plotter should be disabled")
	}

	dir := t.TempDir()
	if err := tp.Start(dir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !tp.IsEnabled() {
		t.Error("plotter should be enabled after Start")
	}
	if got := tp.GetOutputDir(); got != dir {
		t.Errorf("output dir = %q, want %q", got, dir)
	}

	tp.Stop()
	if tp.IsEnabled() {
		t.Error("plotter should be disabled after Stop")
	}
}

func TestTagPlotterSampleWhileDisabled(t *testing.T) {
	tp := NewTagPlotter()
	tp.Sample(frameResult(1, 3))
	if got := tp.SampleCount(); got != 0 {
		t.Errorf("disabled plotter collected %d samples, want 0", got)
	}
}

func TestTagPlotterSampleCount(t *testing.T) {
	tp := NewTagPlotter()
	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tp.Sample(frameResult(1, 3))
	tp.Sample(frameResult(2, 3, 7))
	tp.Sample(nil)

	if got := tp.SampleCount(); got != 3 {
		t.Errorf("SampleCount = %d, want 3", got)
	}
}

func TestTagPlotterGeneratePlots(t *testing.T) {
	tp := NewTagPlotter()
	dir := t.TempDir()
	if err := tp.Start(dir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for seq := uint32(1); seq <= 10; seq++ {
		tp.Sample(frameResult(seq, 3, 7))
	}
	tp.Stop()

	count, err := tp.GeneratePlots()
	if err != nil {
		t.Fatalf("GeneratePlots failed: %v", err)
	}
	if count != 2 {
		t.Errorf("plotted %d tags, want 2", count)
	}

	expected := []string{
		"tag_003_margin.png",
		"tag_003_range_z.png",
		"tag_003_detect_ms.png",
		"tag_007_margin.png",
		"tag_007_range_z.png",
		"tag_007_detect_ms.png",
	}
	for _, name := range expected {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("expected plot file %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("plot file %s is empty", name)
		}
	}
}

func TestTagPlotterGeneratePlotsEmpty(t *testing.T) {
	tp := NewTagPlotter()
	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	count, err := tp.GeneratePlots()
	if err != nil {
		t.Fatalf("GeneratePlots failed: %v", err)
	}
	if count != 0 {
		t.Errorf("plotted %d tags with no samples, want 0", count)
	}
}

func TestTagPlotterGeneratePlotsNoOutputDir(t *testing.T) {
	tp := NewTagPlotter()
	if _, err := tp.GeneratePlots(); err == nil {
		t.Error("expected error when no output dir configured")
	}
}

func TestTagPlotterRun(t *testing.T) {
	tp := NewTagPlotter()
	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch := make(chan *apriltag.FrameResult, 4)
	done := make(chan struct{})
	go func() {
		tp.Run(context.Background(), ch)
		close(done)
	}()

	ch <- frameResult(1, 3)
	ch <- frameResult(2, 3)
	close(ch)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	if got := tp.SampleCount(); got != 2 {
		t.Errorf("SampleCount = %d, want 2", got)
	}
}

func TestMakePlotOutputDir(t *testing.T) {
	dir := MakePlotOutputDir("plots", "captures/run1.bin")
	if !strings.Contains(dir, filepath.Join("plots", "run1")) {
		t.Errorf("replay dir = %q, want it under plots/run1", dir)
	}

	live := MakePlotOutputDir("plots", "")
	if !strings.Contains(live, "live_") {
		t.Errorf("live dir = %q, want live_ prefix", live)
	}

	// Odd capture names cannot steer the directory out of the base.
	hostile := MakePlotOutputDir("plots", "captures/run 1?*.pcap")
	if !strings.Contains(hostile, filepath.Join("plots", "run_1")) {
		t.Errorf("sanitized dir = %q, want it under plots/run_1", hostile)
	}
}
