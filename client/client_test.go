package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/frame"
	"github.com/fluxgate/tsingest/transport"
)

// fakeService is a transport.ServiceClient test double that records every
// ingested request and can be configured to fail.
type fakeService struct {
	registerUID convert.ProviderUID
	registerErr error
	ingestErr   error

	requests []*convert.IngestDataRequest
	closed   bool
}

func (f *fakeService) RegisterProvider(ctx context.Context, reg transport.Registration) (convert.ProviderUID, error) {
	if f.registerErr != nil {
		return 0, f.registerErr
	}
	return f.registerUID, nil
}

func (f *fakeService) IngestData(ctx context.Context, req *convert.IngestDataRequest) (transport.IngestionResult, error) {
	if f.ingestErr != nil {
		return transport.IngestionResult{}, f.ingestErr
	}
	f.requests = append(f.requests, req)
	return transport.IngestionResult{RequestUID: transport.IngestRequestUID(req.ClientRequestID), Accepted: true}, nil
}

func (f *fakeService) Close() error {
	f.closed = true
	return nil
}

func makeFrame(t *testing.T, rows int) frame.IngestionFrame {
	t.Helper()
	col := &frame.Column{Name: "v", Type: frame.ValueFloat64, F64s: make([]float64, rows)}
	for i := range col.F64s {
		col.F64s[i] = float64(i)
	}
	ts := frame.Timestamps{Clock: &frame.SamplingClock{Start: time.Unix(0, 0), Period: time.Second, Count: rows}}
	f, err := frame.New([]*frame.Column{col}, ts, frame.Metadata{})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	return f
}

func TestIngestRequiresRegistration(t *testing.T) {
	c := New(&fakeService{})
	_, err := c.Ingest(context.Background(), makeFrame(t, 3))
	if !errors.Is(err, ErrUnregisteredProvider) {
		t.Fatalf("expected ErrUnregisteredProvider, got %v", err)
	}
}

func TestRegisterProviderThenIngest(t *testing.T) {
	svc := &fakeService{registerUID: 42}
	c := New(svc)

	uid, err := c.RegisterProvider(context.Background(), transport.Registration{Name: "sensor"})
	if err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	if uid != 42 {
		t.Errorf("expected uid 42, got %d", uid)
	}

	results, err := c.Ingest(context.Background(), makeFrame(t, 3))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(results) != 1 || !results[0].Accepted {
		t.Errorf("unexpected results: %+v", results)
	}
	if len(svc.requests) != 1 || svc.requests[0].ProviderID != 42 {
		t.Errorf("unexpected recorded request: %+v", svc.requests)
	}
}

func TestIngestDecomposesWhenEnabled(t *testing.T) {
	svc := &fakeService{registerUID: 1}
	c := New(svc)
	if _, err := c.RegisterProvider(context.Background(), transport.Registration{Name: "sensor"}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}

	// Four float64 columns of 1000 rows (8000 bytes each, ~32KB in all)
	// exceed a 16KB budget while each column still fits one bin, forcing
	// horizontal binning into multiple pieces.
	cols := make([]*frame.Column, 4)
	for i := range cols {
		cols[i] = &frame.Column{Type: frame.ValueFloat64, F64s: make([]float64, 1000)}
	}
	ts := frame.Timestamps{Clock: &frame.SamplingClock{Start: time.Unix(0, 0), Period: time.Second, Count: 1000}}
	f, err := frame.New(cols, ts, frame.Metadata{})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}

	c.EnableFrameDecomposition(16 * 1024)
	results, err := c.Ingest(context.Background(), f)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected decomposition to produce multiple requests, got %d", len(results))
	}
	if len(svc.requests) != len(results) {
		t.Errorf("expected one ingest call per result, got %d calls for %d results", len(svc.requests), len(results))
	}
}

func TestIngestWrapsTransportError(t *testing.T) {
	svc := &fakeService{registerUID: 1, ingestErr: transport.ErrTransport}
	c := New(svc)
	if _, err := c.RegisterProvider(context.Background(), transport.Registration{Name: "sensor"}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}

	_, err := c.Ingest(context.Background(), makeFrame(t, 3))
	if !errors.Is(err, ErrIngestion) {
		t.Fatalf("expected ErrIngestion, got %v", err)
	}
	if !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expected wrapped ErrTransport, got %v", err)
	}
}

func TestClose(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !svc.closed {
		t.Error("expected underlying service to be closed")
	}
}
