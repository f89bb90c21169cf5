// Package binner implements the deterministic frame-decomposition
// ("binning") algorithm: splitting one ingestion frame into an ordered
// sequence of frames that each fit beneath a byte budget.
package binner

import (
	"errors"
	"fmt"

	"github.com/fluxgate/tsingest/frame"
)

// ErrInvalidFrame is returned when a single row or column cannot fit within
// the requested bin size no matter how the frame is split.
var ErrInvalidFrame = errors.New("binner: frame cannot be decomposed within budget")

// ErrIncompleteDecomposition is returned when decomposition finishes without
// fully draining the source frame — an internal invariant violation.
var ErrIncompleteDecomposition = errors.New("binner: source frame not fully drained")

// BinParameters derives the decomposition plan for one frame.
type BinParameters struct {
	FrameSize  int64
	MaxBinSize int64
	BinCount   int
	BinSize    int64
}

// RequiresBinning reports whether the frame exceeds the budget and must be
// split.
func (p BinParameters) RequiresBinning() bool {
	return p.FrameSize > p.MaxBinSize
}

// ComputeBinParameters derives BinParameters for a frame and budget.
func ComputeBinParameters(frameSize, maxBinSize int64) BinParameters {
	if maxBinSize <= 0 {
		maxBinSize = 1
	}
	binCount := int((frameSize + maxBinSize - 1) / maxBinSize)
	if binCount < 1 {
		binCount = 1
	}
	binSize := frameSize / int64(binCount)
	return BinParameters{FrameSize: frameSize, MaxBinSize: maxBinSize, BinCount: binCount, BinSize: binSize}
}

// BinHorizontally decomposes f by column: each resulting frame holds a
// contiguous slice of the source's columns, in ascending source-column
// order, and shares the source's timestamps. f is drained to empty on
// success. A frame already within maxBinSize is returned unchanged as the
// only element.
func BinHorizontally(f frame.IngestionFrame, maxBinSize int64) ([]frame.IngestionFrame, error) {
	params := ComputeBinParameters(f.AllocationSizeFrame(), maxBinSize)
	if !params.RequiresBinning() {
		return []frame.IngestionFrame{f}, nil
	}

	if f.AllocationSizeColumn() > params.BinSize {
		return nil, fmt.Errorf("binner: column allocation %d exceeds bin size %d: %w", f.AllocationSizeColumn(), params.BinSize, ErrInvalidFrame)
	}

	cntColumns := f.ColumnCount()
	colsPerBin := (cntColumns + params.BinCount - 1) / params.BinCount
	if colsPerBin < 1 {
		colsPerBin = 1
	}

	bins := make([]frame.IngestionFrame, 0, params.BinCount)
	for i := 0; i < params.BinCount; i++ {
		bin, err := f.RemoveColumnsByIndex(colsPerBin)
		if err != nil {
			return nil, fmt.Errorf("binner: horizontal extraction: %w", err)
		}
		bins = append(bins, bin)
	}

	if f.ColumnCount() != 0 {
		return nil, fmt.Errorf("binner: %d columns left after %d bins: %w", f.ColumnCount(), params.BinCount, ErrIncompleteDecomposition)
	}
	return bins, nil
}

// BinVertically decomposes f by row: each resulting frame holds a
// contiguous slice of the source's rows, head first, with the timestamp
// representation split at each cut. f is drained to empty on success. A
// frame already within maxBinSize is returned unchanged as the only
// element.
func BinVertically(f frame.IngestionFrame, maxBinSize int64) ([]frame.IngestionFrame, error) {
	params := ComputeBinParameters(f.AllocationSizeFrame(), maxBinSize)
	if !params.RequiresBinning() {
		return []frame.IngestionFrame{f}, nil
	}

	if f.AllocationSizeRow() > params.BinSize {
		return nil, fmt.Errorf("binner: row allocation %d exceeds bin size %d: %w", f.AllocationSizeRow(), params.BinSize, ErrInvalidFrame)
	}

	totalRows := f.RowCount()
	rowsPerBin := (totalRows + params.BinCount - 1) / params.BinCount
	if rowsPerBin < 1 {
		rowsPerBin = 1
	}

	bins := make([]frame.IngestionFrame, 0, params.BinCount)
	for i := 0; i < params.BinCount; i++ {
		bin, err := f.RemoveRowsAtHead(rowsPerBin)
		if err != nil {
			return nil, fmt.Errorf("binner: vertical extraction: %w", err)
		}
		bins = append(bins, bin)
	}

	if f.RowCount() != 0 {
		return nil, fmt.Errorf("binner: %d rows left after %d bins: %w", f.RowCount(), params.BinCount, ErrIncompleteDecomposition)
	}
	return bins, nil
}
