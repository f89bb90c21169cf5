// Package convert implements the Frame→Message Converter: a pure mapping
// from one ingestion frame to one ingestion-request message, plus the
// process-wide monotonic request-ID allocator request messages are tagged
// with.
package convert

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fluxgate/tsingest/frame"
)

// Error kinds surfaced by CreateRequest. None are retried at this layer.
var (
	ErrInvalidFrame    = errors.New("convert: frame is uninitialized or incomplete")
	ErrMissingTimestamps = errors.New("convert: frame has no timestamp representation")
	ErrUnsupportedType = errors.New("convert: column has an unsupported value type")
	ErrBadCast         = errors.New("convert: column value could not be cast to its declared type")
)

// ProviderUID identifies a provider the downstream service has registered.
type ProviderUID int64

// EventMetadata is derived from a frame's snapshot fields. Fields are
// omitted (left at their zero value and Present=false) when the frame
// carries no snapshot identifier or no snapshot domain.
type EventMetadata struct {
	Present         bool
	Description     string
	StartTimestamp  time.Time
	StopTimestamp   time.Time
}

// IngestDataRequest is the wire-level message one converted frame becomes.
// IngestionDataFrame holds the frame itself, unencoded; encoding its
// contents is performed by the wire package, not here — convert only
// assembles the envelope.
type IngestDataRequest struct {
	ProviderID         ProviderUID
	ClientRequestID    string
	RequestTime        time.Time
	Attributes         map[string]string
	EventMetadata      EventMetadata
	IngestionDataFrame frame.IngestionFrame
}

var requestSeq atomic.Uint64

func init() {
	h := fnv.New64a()
	_, _ = h.Write([]byte("github.com/fluxgate/tsingest/convert"))
	requestSeq.Store(h.Sum64() ^ uint64(time.Now().UnixNano()))
}

// NextRequestID returns a process-wide monotonically increasing request ID.
// IDs are unique within this process's lifetime only — callers needing
// cross-process uniqueness must wrap the result (e.g. with a UUID or a
// service-assigned ID); this allocator makes no such guarantee.
func NextRequestID() string {
	return strconv.FormatUint(requestSeq.Add(1), 36)
}

// validate checks the structural preconditions CreateRequest needs before
// it will build a request: the frame must have data and a recognized
// timestamp representation, and every column must hold a supported type.
func validate(f frame.IngestionFrame) error {
	if f == nil || f.ColumnCount() == 0 {
		return ErrInvalidFrame
	}
	ts := f.Timestamps()
	if ts.Clock == nil && ts.Explicit == nil {
		return ErrMissingTimestamps
	}
	if !f.HasData() {
		return ErrInvalidFrame
	}
	if concrete, ok := f.(*frame.Frame); ok {
		for _, c := range concrete.Columns {
			switch c.Type {
			case frame.ValueBool, frame.ValueInt32, frame.ValueInt64, frame.ValueFloat32, frame.ValueFloat64, frame.ValueString:
				if c.Len() != f.RowCount() {
					return fmt.Errorf("convert: column %q has %d rows, frame has %d: %w", c.Name, c.Len(), f.RowCount(), ErrBadCast)
				}
			default:
				return fmt.Errorf("convert: column %q has type %v: %w", c.Name, c.Type, ErrUnsupportedType)
			}
		}
	}
	return nil
}

// CreateRequest builds one IngestDataRequest from f, tagged with the given
// providerUID and requestID. No splitting is performed here — f must
// already fit the wire budget (that is the binner's job).
func CreateRequest(f frame.IngestionFrame, providerUID ProviderUID, requestID string) (*IngestDataRequest, error) {
	if err := validate(f); err != nil {
		return nil, err
	}

	meta := f.Metadata()
	var evt EventMetadata
	if meta.SnapshotID != "" && meta.Domain != nil {
		evt = EventMetadata{
			Present:        true,
			Description:    meta.Label,
			StartTimestamp: meta.Domain.Begin,
			StopTimestamp:  meta.Domain.End,
		}
	}

	return &IngestDataRequest{
		ProviderID:         providerUID,
		ClientRequestID:    requestID,
		RequestTime:        time.Now(),
		Attributes:         meta.Attributes,
		EventMetadata:      evt,
		IngestionDataFrame: f,
	}, nil
}

// CreateRequestWithNewID is a convenience variant that allocates a fresh
// request ID via NextRequestID.
func CreateRequestWithNewID(f frame.IngestionFrame, providerUID ProviderUID) (*IngestDataRequest, error) {
	return CreateRequest(f, providerUID, NextRequestID())
}
