package source

import (
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// Window is a contiguous slice of rows, stored column-wise.
// Call Release when done with it.
type Window struct {
	offset   int
	source   string
	header   []string
	dates    []string
	prices   *array.Float64
	subjects []string
	alloc    memory.Allocator
}

// Offset returns the row offset of the first row in the window.
func (w *Window) Offset() int { return w.offset }

// Len returns the number of rows in the window.
func (w *Window) Len() int { return w.prices.Len() }

// NullPrices returns how many rows have a missing price.
func (w *Window) NullPrices() int { return w.prices.NullN() }

// FillNullPrice replaces every missing price in the column with v.
func (w *Window) FillNullPrice(v float64) {
	if w.prices.NullN() == 0 {
		return
	}

	b := array.NewFloat64Builder(w.alloc)
	defer b.Release()
	b.Reserve(w.prices.Len())

	for i := 0; i < w.prices.Len(); i++ {
		if w.prices.IsNull(i) {
			b.Append(v)
		} else {
			b.Append(w.prices.Value(i))
		}
	}

	w.prices.Release()
	w.prices = b.NewFloat64Array()
}

// Prices returns a copy of the price column.
// Missing prices read as 0; call FillNullPrice first to choose the fill explicitly.
func (w *Window) Prices() []float64 {
	out := make([]float64, w.prices.Len())
	for i := range out {
		if !w.prices.IsNull(i) {
			out[i] = w.prices.Value(i)
		}
	}
	return out
}

// Records converts the window into storage-ready records, tagging each with
// the source file name. A malformed date fails the whole window.
func (w *Window) Records() ([]pgtally.TransactionRecord, error) {
	prices := w.Prices()
	records := make([]pgtally.TransactionRecord, len(prices))

	for i := range records {
		raw := strings.TrimSpace(w.dates[i])
		ts, err := time.Parse(pgtally.DateLayout, raw)
		if err != nil {
			return nil, &pgtally.ParseError{
				File: w.source, Row: w.offset + i + 1, Column: w.header[ColTimestamp], Value: raw, Err: err,
			}
		}

		records[i] = pgtally.TransactionRecord{
			Timestamp:  ts,
			Price:      prices[i],
			SubjectID:  w.subjects[i],
			SourceFile: w.source,
		}
	}

	return records, nil
}

// Release frees the Arrow buffers backing the window.
func (w *Window) Release() {
	if w.prices != nil {
		w.prices.Release()
		w.prices = nil
	}
}
