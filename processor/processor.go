// Package processor implements the Ingestion Frame Processor: a
// multi-stage producer/consumer pipeline that decomposes raw frames,
// converts them into ingest requests, and exposes the results as a
// blocking message supplier to a downstream consumer.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxgate/tsingest/binner"
	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/frame"
)

// ErrInactive is returned by operations attempted on a processor that has
// not been activated, or has been shut down and fully drained.
var ErrInactive = errors.New("processor: inactive")

// ErrInterrupted is returned when a blocking wait is cancelled via context.
var ErrInterrupted = errors.New("processor: interrupted")

// state is the processor's lifecycle state.
type state int

const (
	stateCreated state = iota
	stateActive
	stateSoftShutdown
	stateTerminated
	stateHardTerminated
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateActive:
		return "active"
	case stateSoftShutdown:
		return "soft-shutdown"
	case stateTerminated:
		return "terminated"
	case stateHardTerminated:
		return "hard-terminated"
	default:
		return "unknown"
	}
}

// ConcurrencyConfig controls worker-pool sizing for both pipeline stages.
type ConcurrencyConfig struct {
	Enabled     bool
	ThreadCount int
}

func (c ConcurrencyConfig) workers() int {
	if !c.Enabled || c.ThreadCount < 1 {
		return 1
	}
	return c.ThreadCount
}

// FrameDecompositionConfig controls whether raw frames are binned before
// entering the processed queue.
type FrameDecompositionConfig struct {
	Enabled    bool
	MaxBinSize int64
}

// BackPressureConfig controls producer blocking against the downstream
// backlog: the processed queue's and the outbound queue's occupancy
// combined (see backlogLocked).
type BackPressureConfig struct {
	Enabled       bool
	QueueCapacity int
}

// Config is the processor's fixed-once-activated configuration.
type Config struct {
	Concurrency        ConcurrencyConfig
	FrameDecomposition FrameDecompositionConfig
	BackPressure       BackPressureConfig

	// PollInterval bounds how promptly a worker loop notices a state
	// change or a new queue item when nothing is signaling it directly.
	PollInterval time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for both worker
	// pools to drain and join before reporting ErrInterrupted.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with the processor's baseline timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:    15 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Processor is the ingestion pipeline: raw queue -> decomposition workers
// -> processed queue -> conversion workers -> outbound queue. All three
// queues and the two lifecycle conditions share one mutex.
type Processor struct {
	cfg         Config
	providerUID convert.ProviderUID
	logger      *slog.Logger

	mu         sync.Mutex
	queueReady *sync.Cond // processed + outbound queue size < capacity (signaled from outbound drain)
	queueEmpty *sync.Cond // outbound, processed, and raw queues empty, and pending == 0
	state      state

	rawQueue       []frame.IngestionFrame
	processedQueue []frame.IngestionFrame
	outboundQueue  []*convert.IngestDataRequest

	pending atomic.Int64

	// frameDecompositionEnabled mirrors cfg.FrameDecomposition.Enabled but
	// may be toggled at runtime; maxBinSize itself stays fixed once
	// activated, so in-flight workers always bin against the same budget.
	frameDecompositionEnabled atomic.Bool

	wg         sync.WaitGroup
	hardCtx    context.Context
	hardCancel context.CancelFunc
}

// New constructs an inactive Processor bound to providerUID. Activate must
// be called before it accepts frames.
func New(providerUID convert.ProviderUID, cfg Config, logger *slog.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	hardCtx, hardCancel := context.WithCancel(context.Background())

	p := &Processor{
		cfg:         cfg,
		providerUID: providerUID,
		logger:      logger,
		state:       stateCreated,
		hardCtx:     hardCtx,
		hardCancel:  hardCancel,
	}
	p.queueReady = sync.NewCond(&p.mu)
	p.queueEmpty = sync.NewCond(&p.mu)
	p.frameDecompositionEnabled.Store(cfg.FrameDecomposition.Enabled)
	return p
}

// SetFrameDecompositionEnabled toggles binning on or off for frames dequeued
// after this call; maxBinSize is fixed for the processor's lifetime. Safe
// to call at any time, including while active.
func (p *Processor) SetFrameDecompositionEnabled(enabled bool) {
	p.frameDecompositionEnabled.Store(enabled)
}

// Activate starts the worker pools. Idempotent: the second and later calls
// return false without effect.
func (p *Processor) Activate() bool {
	p.mu.Lock()
	if p.state != stateCreated {
		p.mu.Unlock()
		return false
	}
	p.state = stateActive
	p.mu.Unlock()

	workers := p.cfg.Concurrency.workers()
	for i := 0; i < workers; i++ {
		p.wg.Add(2)
		go p.decomposeLoop()
		go p.convertLoop()
	}

	if p.logger != nil {
		p.logger.Info("processor activated", "workers_per_stage", workers,
			"frame_decomposition", p.cfg.FrameDecomposition.Enabled,
			"back_pressure", p.cfg.BackPressure.Enabled)
	}
	return true
}

// Shutdown performs a soft shutdown: refuses new frames, lets both worker
// pools drain in-flight and queued work, and blocks until they join or
// cfg.ShutdownTimeout elapses.
func (p *Processor) Shutdown() error {
	p.mu.Lock()
	switch p.state {
	case stateCreated:
		p.state = stateTerminated
		p.mu.Unlock()
		return nil
	case stateTerminated, stateHardTerminated:
		p.mu.Unlock()
		return nil
	case stateSoftShutdown:
		p.mu.Unlock()
		// already draining; fall through to the same join-or-timeout wait
	case stateActive:
		p.state = stateSoftShutdown
		p.queueReady.Broadcast()
		p.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.mu.Lock()
		p.state = stateTerminated
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.Info("processor shutdown complete")
		}
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		if p.logger != nil {
			p.logger.Warn("processor shutdown timed out", "timeout", p.cfg.ShutdownTimeout)
		}
		return ErrInterrupted
	}
}

// ShutdownNow performs a hard shutdown: cancels both worker pools, clears
// all three queues, and returns immediately without waiting for workers to
// join.
func (p *Processor) ShutdownNow() error {
	p.mu.Lock()
	if p.state == stateTerminated || p.state == stateHardTerminated {
		p.mu.Unlock()
		return nil
	}
	p.state = stateHardTerminated
	p.rawQueue = nil
	p.processedQueue = nil
	p.outboundQueue = nil
	p.queueReady.Broadcast()
	p.queueEmpty.Broadcast()
	p.mu.Unlock()

	p.hardCancel()
	go p.wg.Wait()

	if p.logger != nil {
		p.logger.Info("processor hard shutdown")
	}
	return nil
}

// AddFrame enqueues a single frame; see AddFrames.
func (p *Processor) AddFrame(ctx context.Context, f frame.IngestionFrame) error {
	return p.AddFrames(ctx, []frame.IngestionFrame{f})
}

// AddFrames enqueues fs onto the raw queue. If back-pressure is enabled and
// the downstream backlog (processed queue plus outbound queue — see
// backlogLocked) is at capacity, the call blocks (honoring ctx) until a
// consumer drains the outbound queue below capacity.
func (p *Processor) AddFrames(ctx context.Context, fs []frame.IngestionFrame) error {
	p.mu.Lock()
	if p.state != stateActive {
		p.mu.Unlock()
		return ErrInactive
	}

	if p.cfg.BackPressure.Enabled {
		for p.backlogLocked() >= p.cfg.BackPressure.QueueCapacity {
			if err := waitCond(ctx, p.queueReady); err != nil {
				p.mu.Unlock()
				return err
			}
			if p.state != stateActive {
				p.mu.Unlock()
				return ErrInactive
			}
		}
	}

	p.rawQueue = append(p.rawQueue, fs...)
	p.mu.Unlock()
	return nil
}

// backlogLocked reports the downstream backlog back-pressure gates on: work
// that has left the raw queue but not yet been taken by a consumer. This
// spans both the processed and outbound queues — a frame sitting on either
// one is still "in the way" of a producer waiting for room. Callers must
// hold p.mu.
func (p *Processor) backlogLocked() int {
	return len(p.processedQueue) + len(p.outboundQueue)
}

// AwaitQueueReady blocks until the downstream backlog is below capacity,
// returning immediately if it already is (or if back-pressure is
// disabled).
func (p *Processor) AwaitQueueReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateActive {
		return ErrInactive
	}
	for p.cfg.BackPressure.Enabled && p.backlogLocked() >= p.cfg.BackPressure.QueueCapacity {
		if err := waitCond(ctx, p.queueReady); err != nil {
			return err
		}
	}
	return nil
}

// AwaitRequestQueueEmpty blocks until all three queues are empty and no
// work is pending, returning immediately if that already holds.
func (p *Processor) AwaitRequestQueueEmpty(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.drainedLocked() {
		if err := waitCond(ctx, p.queueEmpty); err != nil {
			return err
		}
	}
	return nil
}

// drainedLocked reports whether all three queues are empty and no work is
// pending. Callers must hold p.mu.
func (p *Processor) drainedLocked() bool {
	return len(p.outboundQueue) == 0 && len(p.processedQueue) == 0 &&
		len(p.rawQueue) == 0 && p.pending.Load() == 0
}

// IsSupplying reports whether more outbound messages might still become
// available: the processor is active, or work is pending, or the outbound
// queue already holds something.
func (p *Processor) IsSupplying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateActive || p.pending.Load() > 0 || len(p.outboundQueue) > 0
}

// Take blocks until a message is available on the outbound queue, ctx is
// done, or the processor has permanently stopped supplying.
func (p *Processor) Take(ctx context.Context) (*convert.IngestDataRequest, error) {
	for {
		p.mu.Lock()
		if len(p.outboundQueue) > 0 {
			req := p.outboundQueue[0]
			p.outboundQueue = p.outboundQueue[1:]
			p.signalAfterOutboundRemovalLocked()
			p.mu.Unlock()
			return req, nil
		}
		inactive := p.state != stateActive && p.pending.Load() == 0
		p.mu.Unlock()

		if inactive {
			return nil, ErrInactive
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, nil
			}
			return nil, ErrInterrupted
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// PollTimeout is a time-bounded variant of Take: it returns (nil, nil) if
// the timeout elapses with nothing available, rather than an error.
func (p *Processor) PollTimeout(ctx context.Context, timeout time.Duration) (*convert.IngestDataRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Take(ctx)
}

// Poll performs a single non-blocking check of the outbound queue.
func (p *Processor) Poll() (*convert.IngestDataRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.outboundQueue) > 0 {
		req := p.outboundQueue[0]
		p.outboundQueue = p.outboundQueue[1:]
		p.signalAfterOutboundRemovalLocked()
		return req, nil
	}
	if p.state != stateActive && p.pending.Load() == 0 {
		return nil, ErrInactive
	}
	return nil, nil
}

// signalAfterOutboundRemovalLocked implements the back-pressure signaling
// rule: capacity release is observed via outbound-queue drain, not via the
// processed queue shrinking directly. Callers must hold p.mu.
func (p *Processor) signalAfterOutboundRemovalLocked() {
	if !p.cfg.BackPressure.Enabled || p.backlogLocked() < p.cfg.BackPressure.QueueCapacity {
		p.queueReady.Broadcast()
	}
	if p.drainedLocked() {
		p.queueEmpty.Broadcast()
	}
}

// decomposeLoop is one decomposition-stage worker: it drains the raw
// queue, applies binning (horizontal first, vertical on failure), and
// pushes the resulting frames onto the processed queue.
func (p *Processor) decomposeLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		st := p.state
		rawLen := len(p.rawQueue)
		pend := p.pending.Load()
		p.mu.Unlock()

		if st == stateHardTerminated {
			return
		}
		if st != stateActive && pend == 0 && rawLen == 0 {
			return
		}
		if rawLen == 0 {
			select {
			case <-p.hardCtx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.mu.Lock()
		if len(p.rawQueue) == 0 {
			p.mu.Unlock()
			continue
		}
		f := p.rawQueue[0]
		p.rawQueue = p.rawQueue[1:]
		p.pending.Add(1)
		p.mu.Unlock()

		p.decomposeFrame(f)
		p.pending.Add(-1)
		p.broadcastIfDrained()
	}
}

// decomposeFrame bins f per cfg.FrameDecomposition and pushes the result
// onto the processed queue, or logs and abandons f if it cannot be split
// by either mode.
func (p *Processor) decomposeFrame(f frame.IngestionFrame) {
	if !p.frameDecompositionEnabled.Load() {
		p.pushProcessed([]frame.IngestionFrame{f})
		return
	}

	maxBinSize := p.cfg.FrameDecomposition.MaxBinSize
	bins, err := binner.BinHorizontally(f, maxBinSize)
	if err == nil {
		p.pushProcessed(bins)
		return
	}
	if !errors.Is(err, binner.ErrInvalidFrame) && !errors.Is(err, binner.ErrIncompleteDecomposition) {
		p.logError("frame decomposition failed with an unexpected error; abandoning frame", err)
		return
	}

	bins, vErr := binner.BinVertically(f, maxBinSize)
	if vErr != nil {
		p.logError("frame decomposition failed in both modes; abandoning frame",
			fmt.Errorf("horizontal: %w, vertical: %w", err, vErr))
		return
	}
	p.pushProcessed(bins)
}

func (p *Processor) pushProcessed(fs []frame.IngestionFrame) {
	p.mu.Lock()
	p.processedQueue = append(p.processedQueue, fs...)
	p.mu.Unlock()
}

// convertLoop is one conversion-stage worker: it drains the processed
// queue, converts each frame into an ingest request with a fresh request
// ID, and pushes it onto the outbound queue.
func (p *Processor) convertLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		st := p.state
		rawLen := len(p.rawQueue)
		procLen := len(p.processedQueue)
		pend := p.pending.Load()
		p.mu.Unlock()

		if st == stateHardTerminated {
			return
		}
		if st != stateActive && pend == 0 && rawLen == 0 && procLen == 0 {
			return
		}
		if procLen == 0 {
			select {
			case <-p.hardCtx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.mu.Lock()
		if len(p.processedQueue) == 0 {
			p.mu.Unlock()
			continue
		}
		f := p.processedQueue[0]
		p.processedQueue = p.processedQueue[1:]
		p.pending.Add(1)
		p.mu.Unlock()

		req, err := convert.CreateRequestWithNewID(f, p.providerUID)
		if err != nil {
			p.logError("frame conversion failed; abandoning frame", err)
		} else {
			p.mu.Lock()
			p.outboundQueue = append(p.outboundQueue, req)
			p.mu.Unlock()
		}
		p.pending.Add(-1)
		p.broadcastIfDrained()
	}
}

func (p *Processor) broadcastIfDrained() {
	p.mu.Lock()
	if p.drainedLocked() {
		p.queueEmpty.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Processor) logError(msg string, err error) {
	if p.logger != nil {
		p.logger.Error(msg, "error", err)
	}
}

// waitCond waits on cond, honoring ctx cancellation. The caller must hold
// cond.L. Returns ErrInterrupted if ctx is done before cond is signaled;
// otherwise returns nil and the caller must recheck its predicate, since
// Wait can return on a broadcast meant for another waiter.
func waitCond(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}

	stop := context.AfterFunc(ctx, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer stop()

	cond.Wait()

	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}
	return nil
}
