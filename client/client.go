// Package client implements the Unary Ingestion Client: a synchronous,
// per-frame, serial ingestion façade that applies the same decomposition
// and conversion steps the Processor uses, one RPC per resulting message.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fluxgate/tsingest/binner"
	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/frame"
	"github.com/fluxgate/tsingest/transport"
)

// ErrUnregisteredProvider is returned by Ingest when called before
// RegisterProvider has succeeded.
var ErrUnregisteredProvider = errors.New("client: provider not registered")

// ErrIngestion wraps any transport-level failure or service rejection
// encountered while ingesting a frame.
var ErrIngestion = errors.New("client: ingestion failed")

// UnaryClient is a synchronous, serial ingestion façade. It is safe for
// concurrent use by multiple goroutines once a
// provider has been registered; frame decomposition configuration should
// be set up before concurrent use begins.
type UnaryClient struct {
	svc transport.ServiceClient

	mu          sync.RWMutex
	providerUID convert.ProviderUID
	registered  bool

	decomposeEnabled bool
	maxBinSize       int64
}

// New constructs a UnaryClient around a ServiceClient. Frame decomposition
// is disabled by default — callers must size frames themselves until
// EnableFrameDecomposition is called.
func New(svc transport.ServiceClient) *UnaryClient {
	return &UnaryClient{svc: svc}
}

// EnableFrameDecomposition turns on horizontal binning for frames larger
// than maxBinSize. Safe to call at any time.
func (c *UnaryClient) EnableFrameDecomposition(maxBinSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decomposeEnabled = true
	c.maxBinSize = maxBinSize
}

// DisableFrameDecomposition turns off binning; frames pass through
// unchanged and callers are responsible for sizing them. Safe to call at
// any time.
func (c *UnaryClient) DisableFrameDecomposition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decomposeEnabled = false
}

// RegisterProvider registers a data provider with the downstream service
// and remembers the assigned UID for subsequent Ingest calls.
func (c *UnaryClient) RegisterProvider(ctx context.Context, reg transport.Registration) (convert.ProviderUID, error) {
	uid, err := c.svc.RegisterProvider(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("client: registering provider %q: %w: %w", reg.Name, err, ErrIngestion)
	}

	c.mu.Lock()
	c.providerUID = uid
	c.registered = true
	c.mu.Unlock()

	return uid, nil
}

// Ingest decomposes f (if decomposition is enabled and f is too large),
// converts each resulting frame to a request, and sends one unary RPC per
// request, returning the results in order.
func (c *UnaryClient) Ingest(ctx context.Context, f frame.IngestionFrame) ([]transport.IngestionResult, error) {
	c.mu.RLock()
	providerUID, registered := c.providerUID, c.registered
	decomposeEnabled, maxBinSize := c.decomposeEnabled, c.maxBinSize
	c.mu.RUnlock()

	if !registered {
		return nil, ErrUnregisteredProvider
	}

	frames := []frame.IngestionFrame{f}
	if decomposeEnabled {
		bins, err := binner.BinHorizontally(f, maxBinSize)
		if err != nil {
			return nil, fmt.Errorf("client: decomposing frame: %w", err)
		}
		frames = bins
	}

	results := make([]transport.IngestionResult, 0, len(frames))
	for _, fr := range frames {
		req, err := convert.CreateRequestWithNewID(fr, providerUID)
		if err != nil {
			return nil, fmt.Errorf("client: converting frame: %w", err)
		}

		result, err := c.svc.IngestData(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("client: ingesting request %s: %w: %w", req.ClientRequestID, err, ErrIngestion)
		}
		results = append(results, result)
	}

	return results, nil
}

// Close releases the underlying transport connection.
func (c *UnaryClient) Close() error {
	return c.svc.Close()
}
