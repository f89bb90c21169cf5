package wire

import (
	"fmt"

	"github.com/fluxgate/tsingest/convert"
	"github.com/fluxgate/tsingest/frame"
)

// requestHeader is the msgpack-encoded header carried in a TypeIngestRequest
// Frame's Headers field. The frame's column data itself travels in Payload,
// encoded separately by encodeDataFrame — keeping the two concerns apart
// lets a receiver parse the small structured header without touching the
// potentially large payload.
type requestHeader struct {
	ProviderID      int64             `msgpack:"provider_id"`
	ClientRequestID string            `msgpack:"client_request_id"`
	RequestTimeUnix int64             `msgpack:"request_time_unix_nano"`
	Attributes      map[string]string `msgpack:"attributes"`
	HasEventMeta    bool              `msgpack:"has_event_meta"`
	Description     string            `msgpack:"description,omitempty"`
	StartUnix       int64             `msgpack:"start_unix_nano,omitempty"`
	StopUnix        int64             `msgpack:"stop_unix_nano,omitempty"`
}

// dataFrameColumn is the wire-level representation of one frame.Column.
type dataFrameColumn struct {
	Name  string    `msgpack:"name"`
	Type  int       `msgpack:"type"`
	Bools []bool    `msgpack:"bools,omitempty"`
	I32s  []int32   `msgpack:"i32s,omitempty"`
	I64s  []int64   `msgpack:"i64s,omitempty"`
	F32s  []float32 `msgpack:"f32s,omitempty"`
	F64s  []float64 `msgpack:"f64s,omitempty"`
	Strs  []string  `msgpack:"strs,omitempty"`
}

// dataFrameWire is the wire-level representation of one frame.Frame's data,
// the payload EncodeIngestRequest carries. This stands in
// for the real ingestion service's own frame encoding, which is external to
// this module.
type dataFrameWire struct {
	Columns    []dataFrameColumn `msgpack:"columns"`
	ClockStart int64             `msgpack:"clock_start_unix_nano,omitempty"`
	ClockStep  int64             `msgpack:"clock_step_nanos,omitempty"`
	ClockCount int               `msgpack:"clock_count,omitempty"`
	Explicit   []int64           `msgpack:"explicit_unix_nanos,omitempty"`
}

func encodeDataFrame(f frame.IngestionFrame) ([]byte, error) {
	concrete, ok := f.(*frame.Frame)
	if !ok {
		return nil, fmt.Errorf("wire: cannot encode frame of type %T", f)
	}

	w := dataFrameWire{Columns: make([]dataFrameColumn, len(concrete.Columns))}
	for i, c := range concrete.Columns {
		w.Columns[i] = dataFrameColumn{
			Name: c.Name, Type: int(c.Type),
			Bools: c.Bools, I32s: c.I32s, I64s: c.I64s, F32s: c.F32s, F64s: c.F64s, Strs: c.Strs,
		}
	}

	ts := concrete.Timestamps()
	if ts.Clock != nil {
		w.ClockStart = ts.Clock.Start.UnixNano()
		w.ClockStep = int64(ts.Clock.Period)
		w.ClockCount = ts.Clock.Count
	} else {
		w.Explicit = make([]int64, len(ts.Explicit))
		for i, t := range ts.Explicit {
			w.Explicit[i] = t.UnixNano()
		}
	}

	return MarshalMsgpack(w)
}

// EncodeIngestRequest builds a TypeIngestRequest wire.Frame from a converted
// IngestDataRequest.
func EncodeIngestRequest(req *convert.IngestDataRequest) (*Frame, error) {
	hdr := requestHeader{
		ProviderID:      int64(req.ProviderID),
		ClientRequestID: req.ClientRequestID,
		RequestTimeUnix: req.RequestTime.UnixNano(),
		Attributes:      req.Attributes,
	}
	if req.EventMetadata.Present {
		hdr.HasEventMeta = true
		hdr.Description = req.EventMetadata.Description
		hdr.StartUnix = req.EventMetadata.StartTimestamp.UnixNano()
		hdr.StopUnix = req.EventMetadata.StopTimestamp.UnixNano()
	}

	headers, err := MarshalMsgpack(hdr)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding request headers: %w", err)
	}

	payload, err := encodeDataFrame(req.IngestionDataFrame)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding data frame: %w", err)
	}

	return &Frame{Type: TypeIngestRequest, Headers: headers, Payload: payload}, nil
}
