package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/frame"
	"github.com/fluxgate/tsingest/wire"
)

// fakeServer is a minimal in-process stand-in for the Ingestion Service,
// just enough to exercise WSClient's framing and error paths.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, reader, err := conn.NextReader()
			if err != nil {
				return
			}
			req, err := wire.ReadFrame(reader)
			if err != nil {
				return
			}

			var resp *wire.Frame
			switch req.Type {
			case wire.TypeRegisterProvider:
				headers, _ := wire.MarshalMsgpack(struct {
					ProviderUID int64 `msgpack:"provider_uid"`
				}{ProviderUID: 99})
				resp = &wire.Frame{Type: wire.TypeProviderUID, Headers: headers}
			case wire.TypeIngestRequest:
				headers, _ := wire.MarshalMsgpack(struct {
					RequestUID string `msgpack:"request_uid"`
					Accepted   bool   `msgpack:"accepted"`
				}{RequestUID: "ack-1", Accepted: true})
				resp = &wire.Frame{Type: wire.TypeIngestResult, Headers: headers}
			default:
				resp = wire.NewErrorFrame("unknown frame type")
			}

			writer, err := conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			if err := wire.WriteFrame(writer, resp); err != nil {
				return
			}
			writer.Close()
		}
	}))
}

func TestWSClientRegisterProviderAndIngest(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialWebSocket(ctx, addr, nil, nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer client.Close()

	uid, err := client.RegisterProvider(ctx, Registration{Name: "sensor-array-1"})
	if err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	if uid != 99 {
		t.Errorf("expected provider uid 99, got %d", uid)
	}

	cols := []*frame.Column{{Type: frame.ValueFloat64, F64s: []float64{1, 2, 3}}}
	ts := frame.Timestamps{Clock: &frame.SamplingClock{Start: time.Unix(0, 0), Period: time.Second, Count: 3}}
	f, err := frame.New(cols, ts, frame.Metadata{})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	req, err := convert.CreateRequest(f, uid, "req-1")
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	result, err := client.IngestData(ctx, req)
	if err != nil {
		t.Fatalf("IngestData: %v", err)
	}
	if !result.Accepted || result.RequestUID != "ack-1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestWSClientDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialWebSocket(ctx, "ws://127.0.0.1:1/nope", nil, nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}
