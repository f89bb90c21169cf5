package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/wire"
)

// registrationHeader is the msgpack payload of a TypeRegisterProvider frame.
type registrationHeader struct {
	Name       string            `msgpack:"name"`
	Attributes map[string]string `msgpack:"attributes"`
}

// providerUIDHeader is the msgpack payload of a TypeProviderUID response.
type providerUIDHeader struct {
	ProviderUID int64 `msgpack:"provider_uid"`
}

// ingestResultHeader is the msgpack payload of a TypeIngestResult response.
type ingestResultHeader struct {
	RequestUID string `msgpack:"request_uid"`
	Accepted   bool   `msgpack:"accepted"`
	Detail     string `msgpack:"detail"`
}

// WSClient is a ServiceClient implementation carrying tsingest-wire frames
// over a single WebSocket connection: a mutex-guarded *websocket.Conn
// generalized from server-side fan-out to a single client-side
// request/response round trip per call.
type WSClient struct {
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex // guards writes and the write-then-read request/response exchange
}

// DialWebSocket connects to an ingestion service listening at addr
// (ws://host:port/path or wss://host:port/path).
func DialWebSocket(ctx context.Context, addr string, tlsConfig *tls.Config, logger *slog.Logger) (*WSClient, error) {
	if _, err := url.Parse(addr); err != nil {
		return nil, fmt.Errorf("transport: invalid websocket address %q: %w", addr, err)
	}

	dialer := &websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, addr, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %q: %w: %w", addr, err, ErrTransport)
	}
	if resp != nil {
		defer resp.Body.Close()
	}

	return &WSClient{conn: conn, logger: logger}, nil
}

func (c *WSClient) call(req *wire.Frame) (*wire.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return nil, fmt.Errorf("transport: opening websocket writer: %w: %w", err, ErrTransport)
	}
	if err := wire.WriteFrame(w, req); err != nil {
		w.Close()
		return nil, fmt.Errorf("transport: writing request frame: %w: %w", err, ErrTransport)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("transport: flushing request frame: %w: %w", err, ErrTransport)
	}

	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, fmt.Errorf("transport: reading websocket response: %w: %w", err, ErrTransport)
	}
	resp, err := wire.ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("transport: decoding response frame: %w: %w", err, ErrTransport)
	}
	return resp, nil
}

// RegisterProvider implements ServiceClient.
func (c *WSClient) RegisterProvider(ctx context.Context, reg Registration) (convert.ProviderUID, error) {
	headers, err := wire.MarshalMsgpack(registrationHeader{Name: reg.Name, Attributes: reg.Attributes})
	if err != nil {
		return 0, fmt.Errorf("transport: encoding registration: %w", err)
	}

	resp, err := c.call(&wire.Frame{Type: wire.TypeRegisterProvider, Headers: headers})
	if err != nil {
		return 0, err
	}
	if resp.Type == wire.TypeError {
		return 0, fmt.Errorf("transport: registration rejected: %s: %w", string(resp.Payload), ErrServiceRejected)
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
func (c *WSClient) IngestData(ctx context.Context, req *convert.IngestDataRequest) (IngestionResult, error) {
	wf, err := wire.EncodeIngestRequest(req)
	if err != nil {
		return IngestionResult{}, fmt.Errorf("transport: encoding ingest request: %w", err)
	}

	resp, err := c.call(wf)
	if err != nil {
		return IngestionResult{}, err
	}
	if resp.Type == wire.TypeError {
		return IngestionResult{}, fmt.Errorf("transport: ingest rejected: %s: %w", string(resp.Payload), ErrServiceRejected)
	}
	if resp.Type != wire.TypeIngestResult {
		return IngestionResult{}, fmt.Errorf("transport: expected ingest result, got type 0x%02x: %w", resp.Type, ErrServiceRejected)
	}

	var out ingestResultHeader
	if err := wire.UnmarshalMsgpack(resp.Headers, &out); err != nil {
		return IngestionResult{}, fmt.Errorf("transport: decoding ingest result: %w", err)
	}
	if out.RequestUID == "" {
		return IngestionResult{}, fmt.Errorf("transport: ingest result missing request uid: %w", ErrServiceRejected)
	}
	return IngestionResult{RequestUID: IngestRequestUID(out.RequestUID), Accepted: out.Accepted, Detail: out.Detail}, nil
}

// Close implements ServiceClient.
func (c *WSClient) Close() error {
	return c.conn.Close()
}
