package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluxgate/tsingest/frame"
)

func makeColumnFrame(t *testing.T, columns int, rowsPerColumn int) frame.IngestionFrame {
	t.Helper()
	cols := make([]*frame.Column, columns)
	for i := range cols {
		vals := make([]float64, rowsPerColumn)
		cols[i] = &frame.Column{Type: frame.ValueFloat64, F64s: vals}
	}
	ts := frame.Timestamps{Clock: &frame.SamplingClock{Start: time.Unix(0, 0), Period: time.Second, Count: rowsPerColumn}}
	f, err := frame.New(cols, ts, frame.Metadata{})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	return f
}

func TestActivateIsIdempotent(t *testing.T) {
	p := New(1, DefaultConfig(), nil)
	if !p.Activate() {
		t.Fatal("first Activate should succeed")
	}
	if p.Activate() {
		t.Fatal("second Activate should report false")
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestAddFrameRequiresActivation(t *testing.T) {
	p := New(1, DefaultConfig(), nil)
	err := p.AddFrame(context.Background(), makeColumnFrame(t, 1, 1))
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestPassThroughScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	p := New(1, cfg, nil)
	p.Activate()
	defer p.ShutdownNow()

	if err := p.AddFrame(context.Background(), makeColumnFrame(t, 1, 3)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := p.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if req.ProviderID != 1 {
		t.Errorf("expected provider 1, got %d", req.ProviderID)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.IsSupplying() {
		t.Error("expected IsSupplying false after shutdown and drain")
	}
}

func TestHorizontalDecompositionScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.FrameDecomposition = FrameDecompositionConfig{Enabled: true, MaxBinSize: 4 * 1024 * 1024}
	p := New(1, cfg, nil)
	p.Activate()
	defer p.ShutdownNow()

	// 8 columns of ~1.25MB each (≈160000 float64s) totals ≈10MB, over the 4MB budget.
	f := makeColumnFrame(t, 8, 160000)
	if err := p.AddFrame(context.Background(), f); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got int
	for {
		req, err := p.PollTimeout(ctx, 200*time.Millisecond)
		if err != nil {
			t.Fatalf("PollTimeout: %v", err)
		}
		if req == nil {
			break
		}
		got++
	}
	if got != 3 {
		t.Fatalf("expected 3 decomposed messages, got %d", got)
	}
}

func TestColumnTooWideFallsBackToVertical(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.FrameDecomposition = FrameDecompositionConfig{Enabled: true, MaxBinSize: 4 * 1024 * 1024}
	p := New(1, cfg, nil)
	p.Activate()
	defer p.ShutdownNow()

	// Single column, 5MB, too wide for horizontal; vertical must succeed.
	f := makeColumnFrame(t, 1, 700000)
	if err := p.AddFrame(context.Background(), f); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := p.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if req == nil {
		t.Fatal("expected a message via vertical fallback")
	}
}

func TestBackPressureBlocksAndUnblocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Concurrency = ConcurrencyConfig{Enabled: false}
	cfg.BackPressure = BackPressureConfig{Enabled: true, QueueCapacity: 2}
	p := New(1, cfg, nil)
	p.Activate()
	defer p.ShutdownNow()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := p.AddFrame(ctx, makeColumnFrame(t, 1, 1)); err != nil {
			t.Fatalf("AddFrame %d: %v", i, err)
		}
	}
	// Let the two frames reach the processed/outbound stage before checking
	// that a third add blocks.
	time.Sleep(50 * time.Millisecond)

	blocked := make(chan error, 1)
	go func() {
		blocked <- p.AddFrame(ctx, makeColumnFrame(t, 1, 1))
	}()

	select {
	case <-blocked:
		t.Fatal("expected third AddFrame to block while outbound queue is undrained")
	case <-time.After(100 * time.Millisecond):
	}

	takeCtx, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	if _, err := p.Take(takeCtx); err != nil {
		t.Fatalf("Take: %v", err)
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("unblocked AddFrame returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AddFrame did not unblock after a Take")
	}
}

func TestSoftShutdownDrainsHundredFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Concurrency = ConcurrencyConfig{Enabled: true, ThreadCount: 4}
	p := New(1, cfg, nil)
	p.Activate()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := p.AddFrame(ctx, makeColumnFrame(t, 1, 1)); err != nil {
			t.Fatalf("AddFrame %d: %v", i, err)
		}
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var got int
	for {
		req, err := p.Poll()
		if err != nil {
			break
		}
		if req == nil {
			break
		}
		got++
	}
	if got != 100 {
		t.Fatalf("expected 100 drained messages, got %d", got)
	}
	if p.IsSupplying() {
		t.Error("expected IsSupplying false after full drain")
	}
}

func TestShutdownNowClearsQueuesImmediately(t *testing.T) {
	cfg := DefaultConfig()
	// A long poll interval keeps workers asleep between loop iterations, so
	// the frames below are still sitting in the raw queue, untouched, when
	// ShutdownNow is called.
	cfg.PollInterval = time.Hour
	p := New(1, cfg, nil)
	p.Activate()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := p.AddFrame(ctx, makeColumnFrame(t, 1, 1)); err != nil {
			t.Fatalf("AddFrame %d: %v", i, err)
		}
	}

	if err := p.ShutdownNow(); err != nil {
		t.Fatalf("ShutdownNow: %v", err)
	}
	if p.IsSupplying() {
		t.Error("expected IsSupplying false immediately after ShutdownNow")
	}
	if _, err := p.Poll(); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive from Poll after hard shutdown, got %v", err)
	}
}

func TestAwaitQueueReadyReturnsImmediatelyWhenBackPressureDisabled(t *testing.T) {
	p := New(1, DefaultConfig(), nil)
	p.Activate()
	defer p.ShutdownNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.AwaitQueueReady(ctx); err != nil {
		t.Fatalf("AwaitQueueReady: %v", err)
	}
}

func TestTakeCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	p := New(1, cfg, nil)
	p.Activate()
	defer p.ShutdownNow()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := p.Take(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestTakeTimeoutReturnsNoMessageWithoutError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	p := New(1, cfg, nil)
	p.Activate()
	defer p.ShutdownNow()

	req, err := p.PollTimeout(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("expected no error on timeout, got %v", err)
	}
	if req != nil {
		t.Fatalf("expected no message, got %+v", req)
	}
}
