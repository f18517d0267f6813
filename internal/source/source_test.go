package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

const header = "timestamp,price,user_id\n"

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func generateRows(n int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "01/%02d/2012,%d.5,u%d\n", i%28+1, i, i)
	}
	return b.String()
}

func TestOpen_IndexesRows(t *testing.T) {
	path := writeCSV(t, "2012-1.csv", generateRows(7))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 7, src.Len())
	assert.Equal(t, "2012-1.csv", src.Name())
	assert.Equal(t, []string{"timestamp", "price", "user_id"}, src.Header())
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty file", ""},
		{"too few columns", "timestamp,price\n01/01/2012,1\n"},
		{"unterminated quote", header + "01/01/2012,\"1,u1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, "bad.csv", tt.body)
			_, err := Open(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, pgtally.ErrParse))
		})
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSlice_FixedStrideWindows(t *testing.T) {
	path := writeCSV(t, "big.csv", generateRows(2500))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	var sizes []int
	for offset := 0; ; offset += 1000 {
		w, err := src.Slice(offset, 1000)
		require.NoError(t, err)
		n := w.Len()
		w.Release()
		if n == 0 {
			break
		}
		sizes = append(sizes, n)
	}

	assert.Equal(t, []int{1000, 1000, 500}, sizes)
}

func TestSlice_RandomAccess(t *testing.T) {
	path := writeCSV(t, "ra.csv", generateRows(50))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	// Out of order reads return the same rows as sequential reads.
	late, err := src.Slice(40, 5)
	require.NoError(t, err)
	defer late.Release()
	early, err := src.Slice(3, 2)
	require.NoError(t, err)
	defer early.Release()

	assert.Equal(t, []float64{40.5, 41.5, 42.5, 43.5, 44.5}, late.Prices())
	assert.Equal(t, []float64{3.5, 4.5}, early.Prices())
	assert.Equal(t, 40, late.Offset())
}

func TestSlice_PastEndIsEmpty(t *testing.T) {
	path := writeCSV(t, "small.csv", generateRows(3))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	for _, offset := range []int{3, 4, 1000} {
		w, err := src.Slice(offset, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, w.Len(), "offset %d", offset)
		recs, err := w.Records()
		require.NoError(t, err)
		assert.Empty(t, recs)
		w.Release()
	}
}

func TestSlice_HeaderOnly(t *testing.T) {
	path := writeCSV(t, "hdr.csv", header)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 0, src.Len())
	w, err := src.Slice(0, 1000)
	require.NoError(t, err)
	defer w.Release()
	assert.Equal(t, 0, w.Len())
}

func TestSlice_InvalidArguments(t *testing.T) {
	path := writeCSV(t, "x.csv", generateRows(1))
	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Slice(-1, 10)
	assert.Error(t, err)
	_, err = src.Slice(0, -1)
	assert.Error(t, err)
}

func TestSlice_BadPriceIsParseError(t *testing.T) {
	body := header + "01/01/2012,1.0,a\n01/02/2012,abc,b\n"
	path := writeCSV(t, "p.csv", body)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Slice(0, 10)
	require.Error(t, err)

	var pe *pgtally.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "p.csv", pe.File)
	assert.Equal(t, 2, pe.Row)
	assert.Equal(t, "price", pe.Column)
	assert.Equal(t, "abc", pe.Value)
}

func TestWindow_NullPricesFilledColumnWise(t *testing.T) {
	body := header + "01/01/2012,10.0,a\n01/02/2012,,b\n01/03/2012,null,c\n"
	path := writeCSV(t, "n.csv", body)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	w, err := src.Slice(0, 10)
	require.NoError(t, err)
	defer w.Release()

	assert.Equal(t, 2, w.NullPrices())

	w.FillNullPrice(0)
	assert.Equal(t, 0, w.NullPrices())
	assert.Equal(t, []float64{10, 0, 0}, w.Prices())

	recs, err := w.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 0.0, recs[1].Price)
	assert.Equal(t, "b", recs[1].SubjectID)
}

func TestWindow_Records(t *testing.T) {
	tests := []struct {
		name string
		date string
		want time.Time
	}{
		{"zero padded", "01/15/2012", time.Date(2012, time.January, 15, 0, 0, 0, 0, time.UTC)},
		{"unpadded month and day", "6/1/2012", time.Date(2012, time.June, 1, 0, 0, 0, 0, time.UTC)},
		{"unpadded month", "6/15/2012", time.Date(2012, time.June, 15, 0, 0, 0, 0, time.UTC)},
		{"unpadded day", "11/3/2012", time.Date(2012, time.November, 3, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, "2012-3.csv", header+tt.date+",20.25,user-7\n")

			src, err := Open(path)
			require.NoError(t, err)
			defer src.Close()

			w, err := src.Slice(0, 1)
			require.NoError(t, err)
			defer w.Release()

			recs, err := w.Records()
			require.NoError(t, err)
			require.Len(t, recs, 1)

			assert.Equal(t, pgtally.TransactionRecord{
				Timestamp:  tt.want,
				Price:      20.25,
				SubjectID:  "user-7",
				SourceFile: "2012-3.csv",
			}, recs[0])
		})
	}
}

func TestWindow_FillUsesSourceAllocator(t *testing.T) {
	path := writeCSV(t, "a.csv", header+"01/01/2012,,a\n01/02/2012,4,b\n")

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	src.alloc = alloc

	w, err := src.Slice(0, 2)
	require.NoError(t, err)

	w.FillNullPrice(0)
	assert.Positive(t, alloc.CurrentAlloc(), "filled column must come from the source allocator")
	assert.Equal(t, []float64{0, 4}, w.Prices())

	w.Release()
	alloc.AssertSize(t, 0)
}

func TestWindow_BadDateIsParseError(t *testing.T) {
	body := header + "01/01/2012,1,a\n01/01/2012,2,b\n2012-01-03,3,c\n"
	path := writeCSV(t, "d.csv", body)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	w, err := src.Slice(1, 5)
	require.NoError(t, err)
	defer w.Release()

	_, err = w.Records()
	require.Error(t, err)

	var pe *pgtally.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Row)
	assert.Equal(t, "timestamp", pe.Column)
	assert.Equal(t, "2012-01-03", pe.Value)
}

func TestClose_Idempotent(t *testing.T) {
	path := writeCSV(t, "c.csv", generateRows(1))
	src, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}
