// Package frame implements the ingestion frame data model: a columnar table
// of time-aligned samples plus optional metadata, the unit the rest of this
// module decomposes, converts, and ships to an ingestion service.
package frame

import (
	"fmt"
	"time"
	"unsafe"
)

// ValueType identifies the Go type stored in a Column.
type ValueType int

const (
	ValueBool ValueType = iota
	ValueInt32
	ValueInt64
	ValueFloat32
	ValueFloat64
	ValueString
)

func (t ValueType) String() string {
	switch t {
	case ValueBool:
		return "bool"
	case ValueInt32:
		return "int32"
	case ValueInt64:
		return "int64"
	case ValueFloat32:
		return "float32"
	case ValueFloat64:
		return "float64"
	case ValueString:
		return "string"
	default:
		return fmt.Sprintf("valuetype(%d)", int(t))
	}
}

// Column is one named, typed, uniform-length sequence of sample values.
// Exactly one of the Values slices is populated, matching Type.
type Column struct {
	Name   string
	Type   ValueType
	Bools  []bool
	I32s   []int32
	I64s   []int64
	F32s   []float32
	F64s   []float64
	Strs   []string
}

// Len returns the column's row count.
func (c *Column) Len() int {
	switch c.Type {
	case ValueBool:
		return len(c.Bools)
	case ValueInt32:
		return len(c.I32s)
	case ValueInt64:
		return len(c.I64s)
	case ValueFloat32:
		return len(c.F32s)
	case ValueFloat64:
		return len(c.F64s)
	case ValueString:
		return len(c.Strs)
	default:
		return 0
	}
}

// allocationSize returns the in-memory footprint of this column's data, not
// counting the Column struct itself.
func (c *Column) allocationSize() int64 {
	switch c.Type {
	case ValueBool:
		return int64(len(c.Bools)) * int64(unsafe.Sizeof(false))
	case ValueInt32:
		return int64(len(c.I32s)) * int64(unsafe.Sizeof(int32(0)))
	case ValueInt64:
		return int64(len(c.I64s)) * int64(unsafe.Sizeof(int64(0)))
	case ValueFloat32:
		return int64(len(c.F32s)) * int64(unsafe.Sizeof(float32(0)))
	case ValueFloat64:
		return int64(len(c.F64s)) * int64(unsafe.Sizeof(float64(0)))
	case ValueString:
		var total int64
		for _, s := range c.Strs {
			total += int64(len(s)) + int64(unsafe.Sizeof(s))
		}
		return total
	default:
		return 0
	}
}

// slice returns a new Column holding rows [start, end) of c.
func (c *Column) slice(start, end int) *Column {
	out := &Column{Name: c.Name, Type: c.Type}
	switch c.Type {
	case ValueBool:
		out.Bools = append([]bool(nil), c.Bools[start:end]...)
	case ValueInt32:
		out.I32s = append([]int32(nil), c.I32s[start:end]...)
	case ValueInt64:
		out.I64s = append([]int64(nil), c.I64s[start:end]...)
	case ValueFloat32:
		out.F32s = append([]float32(nil), c.F32s[start:end]...)
	case ValueFloat64:
		out.F64s = append([]float64(nil), c.F64s[start:end]...)
	case ValueString:
		out.Strs = append([]string(nil), c.Strs[start:end]...)
	}
	return out
}

// Timestamps is the sampling-time representation for a frame. Exactly one
// of SamplingClock or Explicit is set.
type Timestamps struct {
	Clock    *SamplingClock
	Explicit []time.Time
}

// SamplingClock describes a uniform sampling clock: Count samples starting
// at Start, Period apart.
type SamplingClock struct {
	Start  time.Time
	Period time.Duration
	Count  int
}

// Count returns the number of timestamps this representation describes.
func (t Timestamps) Count() int {
	if t.Clock != nil {
		return t.Clock.Count
	}
	return len(t.Explicit)
}

// head returns the timestamps covering the first n rows, splitting the
// sampling clock or explicit list at the cut.
func (t Timestamps) head(n int) Timestamps {
	if t.Clock != nil {
		return Timestamps{Clock: &SamplingClock{Start: t.Clock.Start, Period: t.Clock.Period, Count: n}}
	}
	return Timestamps{Explicit: append([]time.Time(nil), t.Explicit[:n]...)}
}

// tail returns the timestamps covering rows [n, Count), splitting the
// sampling clock or explicit list at the cut.
func (t Timestamps) tail(n int) Timestamps {
	if t.Clock != nil {
		newStart := t.Clock.Start.Add(time.Duration(n) * t.Clock.Period)
		return Timestamps{Clock: &SamplingClock{Start: newStart, Period: t.Clock.Period, Count: t.Clock.Count - n}}
	}
	return Timestamps{Explicit: append([]time.Time(nil), t.Explicit[n:]...)}
}

// SnapshotDomain is a snapshot's time domain, present only when the frame
// carries a snapshot identifier.
type SnapshotDomain struct {
	Begin time.Time
	End   time.Time
}

// Metadata is the optional, free-form information a frame may carry
// alongside its column data.
type Metadata struct {
	Attributes map[string]string
	SnapshotID string
	Domain     *SnapshotDomain
	Label      string
}

// IngestionFrame is the data-model contract the binner, converter, unary
// client, and processor all operate against. A concrete implementation is
// provided by *Frame below; callers may substitute their own as long as
// RemoveColumnsByIndex and RemoveRowsAtHead preserve row/column alignment
// between the extracted piece and what remains.
type IngestionFrame interface {
	RowCount() int
	ColumnCount() int
	AllocationSizeFrame() int64
	AllocationSizeRow() int64
	AllocationSizeColumn() int64
	HasData() bool
	RemoveColumnsByIndex(n int) (IngestionFrame, error)
	RemoveRowsAtHead(n int) (IngestionFrame, error)
	Metadata() Metadata
	Timestamps() Timestamps
}

// Frame is the in-memory columnar implementation of IngestionFrame.
type Frame struct {
	Columns []*Column
	Meta    Metadata
	Stamps  Timestamps
}

// New constructs a Frame, validating that every column has the same row
// count as the timestamp representation.
func New(columns []*Column, ts Timestamps, meta Metadata) (*Frame, error) {
	rows := ts.Count()
	for _, c := range columns {
		if c.Len() != rows {
			return nil, fmt.Errorf("frame: column %q has %d rows, timestamps describe %d", c.Name, c.Len(), rows)
		}
	}
	return &Frame{Columns: columns, Meta: meta, Stamps: ts}, nil
}

func (f *Frame) RowCount() int {
	return f.Stamps.Count()
}

func (f *Frame) ColumnCount() int {
	return len(f.Columns)
}

// AllocationSizeFrame reports the in-memory footprint of the frame's data:
// every column's element storage plus the timestamp representation. This is
// intentionally not the wire-encoded size (see DESIGN.md) — it is what the
// binner has available before any encoding happens.
func (f *Frame) AllocationSizeFrame() int64 {
	var total int64
	for _, c := range f.Columns {
		total += c.allocationSize()
	}
	if f.Stamps.Clock != nil {
		total += int64(unsafe.Sizeof(SamplingClock{}))
	} else {
		total += int64(len(f.Stamps.Explicit)) * int64(unsafe.Sizeof(time.Time{}))
	}
	return total
}

// AllocationSizeRow reports the in-memory footprint of a single row across
// all columns.
func (f *Frame) AllocationSizeRow() int64 {
	rows := f.RowCount()
	if rows == 0 {
		return 0
	}
	return f.AllocationSizeFrame() / int64(rows)
}

// AllocationSizeColumn reports the average in-memory footprint of a single
// column, including its timestamp-independent data only.
func (f *Frame) AllocationSizeColumn() int64 {
	if len(f.Columns) == 0 {
		return 0
	}
	var total int64
	for _, c := range f.Columns {
		total += c.allocationSize()
	}
	return total / int64(len(f.Columns))
}

func (f *Frame) HasData() bool {
	return f.RowCount() > 0 && f.ColumnCount() > 0
}

// RemoveColumnsByIndex extracts the first n columns (or all remaining, if
// fewer than n are left) into a new Frame that shares this frame's
// timestamp representation, leaving f with the rest.
func (f *Frame) RemoveColumnsByIndex(n int) (IngestionFrame, error) {
	if n <= 0 {
		return nil, fmt.Errorf("frame: RemoveColumnsByIndex requires n > 0, got %d", n)
	}
	if n > len(f.Columns) {
		n = len(f.Columns)
	}
	taken := f.Columns[:n]
	f.Columns = f.Columns[n:]
	out := &Frame{Columns: taken, Meta: f.Meta, Stamps: f.Stamps}
	return out, nil
}

// RemoveRowsAtHead extracts the first n rows (or all remaining) into a new
// Frame, splitting the timestamp representation at the cut, leaving f with
// the rest.
func (f *Frame) RemoveRowsAtHead(n int) (IngestionFrame, error) {
	rows := f.RowCount()
	if n <= 0 {
		return nil, fmt.Errorf("frame: RemoveRowsAtHead requires n > 0, got %d", n)
	}
	if n > rows {
		n = rows
	}
	headCols := make([]*Column, len(f.Columns))
	for i, c := range f.Columns {
		headCols[i] = c.slice(0, n)
		f.Columns[i] = c.slice(n, c.Len())
	}
	headStamps := f.Stamps.head(n)
	f.Stamps = f.Stamps.tail(n)
	out := &Frame{Columns: headCols, Meta: f.Meta, Stamps: headStamps}
	return out, nil
}

func (f *Frame) Metadata() Metadata {
	return f.Meta
}

func (f *Frame) Timestamps() Timestamps {
	return f.Stamps
}
