// Package transport defines the downstream ingestion service as an
// abstract collaborator and provides two concrete implementations —
// WebSocket and QUIC — that carry tsingest-wire frames to it.
package transport

import (
	"context"
	"errors"

	"github.com/fluxgate/tsingest/convert"
)

// ErrTransport wraps any failure originating below the RPC boundary
// (connection loss, I/O error, timeout). The Unary Client returns it
// wrapped with its cause; the Processor leaves it to the downstream
// consumer, since by the time a message is produced the call that will
// eventually fail has not happened yet.
var ErrTransport = errors.New("transport: call failed")

// ErrServiceRejected is returned when the downstream service responds
// without the field a successful acknowledgement must carry.
var ErrServiceRejected = errors.New("transport: service rejected request")

// Registration is the information sent to register a new data provider.
type Registration struct {
	Name       string
	Attributes map[string]string
}

// IngestRequestUID identifies one ingest request as acknowledged by the
// service.
type IngestRequestUID string

// IngestionResult is the service's acknowledgement for one ingest request.
type IngestionResult struct {
	RequestUID IngestRequestUID
	Accepted   bool
	Detail     string
}

// ServiceClient is the RPC surface this module consumes. Connection setup,
// stub management, and the service's own wire format belong to the real
// ingestion service, which lives outside this module; this interface is
// the seam between this module's pipeline and that service.
type ServiceClient interface {
	// RegisterProvider registers a data provider and returns its assigned
	// UID.
	RegisterProvider(ctx context.Context, reg Registration) (convert.ProviderUID, error)
	// IngestData performs one unary ingest call and returns the service's
	// acknowledgement.
	IngestData(ctx context.Context, req *convert.IngestDataRequest) (IngestionResult, error)
	// Close releases any resources held by the client.
	Close() error
}

// StreamingServiceClient is the bidirectional-stream variant a downstream
// consumer of the Processor's outbound queue ultimately drives.
// IngestStream opens one long-lived stream; the returned IngestStreamClient
// lets a consumer send requests and receive acknowledgements independently.
type StreamingServiceClient interface {
	ServiceClient
	IngestStream(ctx context.Context) (IngestStreamClient, error)
}

// IngestStreamClient is one open bidirectional ingestion stream.
type IngestStreamClient interface {
	Send(req *convert.IngestDataRequest) error
	Recv() (IngestionResult, error)
	CloseSend() error
}
