package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/wire"
)

// QUICClient is a StreamingServiceClient implementation carrying
// tsingest-wire frames over QUIC streams: the client-side counterpart to a
// quic-go/http3.Server that serves HTTP/3, this wraps quic-go's client
// dial for calling out.
type QUICClient struct {
	conn   *quic.Conn
	logger *slog.Logger
}

// DialQUIC connects to an ingestion service listening at addr ("host:port").
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, logger *slog.Logger) (*QUICClient, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("transport: dialing quic %q: %w: %w", addr, err, ErrTransport)
	}
	return &QUICClient{conn: conn, logger: logger}, nil
}

func (c *QUICClient) unaryCall(ctx context.Context, req *wire.Frame) (*wire.Frame, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: opening quic stream: %w: %w", err, ErrTransport)
	}
	defer stream.Close()

	if err := wire.WriteFrame(stream, req); err != nil {
		return nil, fmt.Errorf("transport: writing quic request frame: %w: %w", err, ErrTransport)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("transport: closing quic write side: %w: %w", err, ErrTransport)
	}

	resp, err := wire.ReadFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("transport: reading quic response frame: %w: %w", err, ErrTransport)
	}
	return resp, nil
}

// RegisterProvider implements ServiceClient.
func (c *QUICClient) RegisterProvider(ctx context.Context, reg Registration) (convert.ProviderUID, error) {
	headers, err := wire.MarshalMsgpack(registrationHeader{Name: reg.Name, Attributes: reg.Attributes})
	if err != nil {
		return 0, fmt.Errorf("transport: encoding registration: %w", err)
	}

	resp, err := c.unaryCall(ctx, &wire.Frame{Type: wire.TypeRegisterProvider, Headers: headers})
	if err != nil {
		return 0, err
	}
	if resp.Type != wire.TypeProviderUID {
		return 0, fmt.Errorf("transport: expected provider uid response, got type 0x%02x: %w", resp.Type, ErrServiceRejected)
	}

	var out providerUIDHeader
	if err := wire.UnmarshalMsgpack(resp.Headers, &out); err != nil {
		return 0, fmt.Errorf("transport: decoding provider uid: %w", err)
	}
	return convert.ProviderUID(out.ProviderUID), nil
}

// IngestData implements ServiceClient.
func (c *QUICClient) IngestData(ctx context.Context, req *convert.IngestDataRequest) (IngestionResult, error) {
	wf, err := wire.EncodeIngestRequest(req)
	if err != nil {
		return IngestionResult{}, fmt.Errorf("transport: encoding ingest request: %w", err)
	}

	resp, err := c.unaryCall(ctx, wf)
	if err != nil {
		return IngestionResult{}, err
	}
	if resp.Type != wire.TypeIngestResult {
		return IngestionResult{}, fmt.Errorf("transport: expected ingest result, got type 0x%02x: %w", resp.Type, ErrServiceRejected)
	}

	var out ingestResultHeader
	if err := wire.UnmarshalMsgpack(resp.Headers, &out); err != nil {
		return IngestionResult{}, fmt.Errorf("transport: decoding ingest result: %w", err)
	}
	return IngestionResult{RequestUID: IngestRequestUID(out.RequestUID), Accepted: out.Accepted, Detail: out.Detail}, nil
}

// IngestStream implements StreamingServiceClient, opening one long-lived
// bidirectional stream a downstream consumer can drive independently of
// the unary calls above.
func (c *QUICClient) IngestStream(ctx context.Context) (IngestStreamClient, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: opening quic ingest stream: %w: %w", err, ErrTransport)
	}
	return &quicStream{stream: stream}, nil
}

// Close implements ServiceClient.
func (c *QUICClient) Close() error {
	return c.conn.CloseWithError(0, "client closed")
}

// quicStream implements IngestStreamClient over one quic.Stream.
type quicStream struct {
	stream *quic.Stream
	mu     sync.Mutex
}

func (s *quicStream) Send(req *convert.IngestDataRequest) error {
	wf, err := wire.EncodeIngestRequest(req)
	if err != nil {
		return fmt.Errorf("transport: encoding stream request: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := wire.WriteFrame(s.stream, wf); err != nil {
		return fmt.Errorf("transport: writing stream frame: %w: %w", err, ErrTransport)
	}
	return nil
}

func (s *quicStream) Recv() (IngestionResult, error) {
	resp, err := wire.ReadFrame(s.stream)
	if err != nil {
		return IngestionResult{}, fmt.Errorf("transport: reading stream frame: %w: %w", err, ErrTransport)
	}
	if resp.Type != wire.TypeIngestResult {
		return IngestionResult{}, fmt.Errorf("transport: expected ingest result, got type 0x%02x: %w", resp.Type, ErrServiceRejected)
	}
	var out ingestResultHeader
	if err := wire.UnmarshalMsgpack(resp.Headers, &out); err != nil {
		return IngestionResult{}, fmt.Errorf("transport: decoding stream ingest result: %w", err)
	}
	return IngestionResult{RequestUID: IngestRequestUID(out.RequestUID), Accepted: out.Accepted, Detail: out.Detail}, nil
}

func (s *quicStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Close()
}
