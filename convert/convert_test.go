package convert

import (
	"errors"
	"testing"
	"time"

	"github.com/fluxgate/tsingest/frame"
)

func simpleFrame(t *testing.T) *frame.Frame {
	t.Helper()
	cols := []*frame.Column{{Type: frame.ValueFloat64, F64s: []float64{1, 2, 3}, Name: "v"}}
	ts := frame.Timestamps{Clock: &frame.SamplingClock{Start: time.Unix(0, 0), Period: time.Second, Count: 3}}
	f, err := frame.New(cols, ts, frame.Metadata{Attributes: map[string]string{"unit": "volts"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestNextRequestIDMonotonic(t *testing.T) {
	seen := make(map[string]bool)
	var prev uint64
	for i := 0; i < 1000; i++ {
		id := NextRequestID()
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
		_ = prev
	}
}

func TestCreateRequestPopulatesEnvelope(t *testing.T) {
	f := simpleFrame(t)
	req, err := CreateRequest(f, ProviderUID(7), "req-1")
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.ProviderID != 7 {
		t.Errorf("expected provider id 7, got %d", req.ProviderID)
	}
	if req.ClientRequestID != "req-1" {
		t.Errorf("expected client request id req-1, got %q", req.ClientRequestID)
	}
	if req.Attributes["unit"] != "volts" {
		t.Errorf("expected attributes carried through, got %v", req.Attributes)
	}
	if req.EventMetadata.Present {
		t.Error("expected no event metadata when frame has no snapshot fields")
	}
}

func TestCreateRequestDerivesEventMetadataFromSnapshot(t *testing.T) {
	cols := []*frame.Column{{Type: frame.ValueFloat64, F64s: []float64{1}, Name: "v"}}
	ts := frame.Timestamps{Clock: &frame.SamplingClock{Start: time.Unix(0, 0), Period: time.Second, Count: 1}}
	begin := time.Unix(100, 0)
	end := time.Unix(200, 0)
	f, err := frame.New(cols, ts, frame.Metadata{
		SnapshotID: "snap-1",
		Domain:     &frame.SnapshotDomain{Begin: begin, End: end},
		Label:      "test run",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req, err := CreateRequestWithNewID(f, ProviderUID(1))
	if err != nil {
		t.Fatalf("CreateRequestWithNewID: %v", err)
	}
	if !req.EventMetadata.Present {
		t.Fatal("expected event metadata present")
	}
	if req.EventMetadata.StartTimestamp != begin || req.EventMetadata.StopTimestamp != end {
		t.Errorf("expected event metadata timestamps to match snapshot domain")
	}
}

func TestCreateRequestRejectsEmptyFrame(t *testing.T) {
	f := &frame.Frame{}
	_, err := CreateRequest(f, ProviderUID(1), "x")
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestCreateRequestRejectsMissingTimestamps(t *testing.T) {
	cols := []*frame.Column{{Type: frame.ValueFloat64, F64s: []float64{1}, Name: "v"}}
	f := &frame.Frame{Columns: cols}
	_, err := CreateRequest(f, ProviderUID(1), "x")
	if !errors.Is(err, ErrMissingTimestamps) {
		t.Fatalf("expected ErrMissingTimestamps, got %v", err)
	}
}

func TestCreateRequestRejectsUnsupportedType(t *testing.T) {
	cols := []*frame.Column{{Type: frame.ValueType(99), Strs: []string{"x"}, Name: "bad"}}
	ts := frame.Timestamps{Explicit: []time.Time{time.Unix(0, 0)}}
	f := &frame.Frame{Columns: cols, Stamps: ts}
	_, err := CreateRequest(f, ProviderUID(1), "x")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}
