package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// Column positions within a row.
const (
	ColTimestamp = 0
	ColPrice     = 1
	ColSubject   = 2

	minColumns = 3
)

// nullTokens are price cells treated as missing.
var nullTokens = map[string]struct{}{
	"":     {},
	"null": {},
	"NULL": {},
	"None": {},
}

// Source is an indexed, read-only view of one input file.
//
// Thread-Safety: NOT safe for concurrent use.
type Source struct {
	path    string
	name    string
	file    *os.File
	size    int64
	header  []string
	offsets []int64
	alloc   memory.Allocator
}

// Open opens path and indexes its rows.
// A malformed record anywhere in the file fails Open with an error matching pgtally.ErrParse.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open input: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	s := &Source{
		path:  path,
		name:  filepath.Base(path),
		file:  f,
		size:  info.Size(),
		alloc: memory.NewGoAllocator(),
	}

	if err := s.index(); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false
	return cr
}

// index reads the header and records the starting offset of each data row.
func (s *Source) index() error {
	cr := newReader(s.file)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &pgtally.ParseError{File: s.name, Row: 0, Column: "header", Err: io.ErrUnexpectedEOF}
		}
		return &pgtally.ParseError{File: s.name, Row: 0, Column: "header", Err: err}
	}
	if len(header) < minColumns {
		return &pgtally.ParseError{
			File: s.name, Row: 0, Column: "header", Value: strings.Join(header, ","),
			Err: fmt.Errorf("expected at least %d columns, got %d", minColumns, len(header)),
		}
	}
	s.header = header

	for {
		offset := cr.InputOffset()
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &pgtally.ParseError{File: s.name, Row: len(s.offsets) + 1, Column: "record", Err: err}
		}
		s.offsets = append(s.offsets, offset)
	}

	return nil
}

// Name returns the base name of the file, stored as row provenance.
func (s *Source) Name() string { return s.name }

// Path returns the path the source was opened with.
func (s *Source) Path() string { return s.path }

// Header returns the column names of the header row.
func (s *Source) Header() []string { return s.header }

// Len returns the number of data rows.
func (s *Source) Len() int { return len(s.offsets) }

// Slice returns up to length rows starting at row offset.
// An offset at or past the end yields an empty window and no error.
func (s *Source) Slice(offset, length int) (*Window, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid window offset=%d length=%d", offset, length)
	}

	w := &Window{offset: offset, source: s.name, header: s.header, alloc: s.alloc}
	if offset >= len(s.offsets) || length == 0 {
		w.prices = array.NewFloat64Builder(s.alloc).NewFloat64Array()
		return w, nil
	}

	endRow := min(offset+length, len(s.offsets))
	start := s.offsets[offset]
	end := s.size
	if endRow < len(s.offsets) {
		end = s.offsets[endRow]
	}

	cr := newReader(io.NewSectionReader(s.file, start, end-start))
	n := endRow - offset

	w.dates = make([]string, 0, n)
	w.subjects = make([]string, 0, n)

	pb := array.NewFloat64Builder(s.alloc)
	defer pb.Release()
	pb.Reserve(n)

	for i := 0; i < n; i++ {
		row := offset + i + 1
		rec, err := cr.Read()
		if err != nil {
			return nil, &pgtally.ParseError{File: s.name, Row: row, Column: "record", Err: err}
		}
		if len(rec) < minColumns {
			return nil, &pgtally.ParseError{
				File: s.name, Row: row, Column: "record", Value: strings.Join(rec, ","),
				Err: fmt.Errorf("expected at least %d fields, got %d", minColumns, len(rec)),
			}
		}

		raw := strings.TrimSpace(rec[ColPrice])
		if _, isNull := nullTokens[raw]; isNull {
			pb.AppendNull()
		} else {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &pgtally.ParseError{File: s.name, Row: row, Column: s.header[ColPrice], Value: raw, Err: err}
			}
			pb.Append(v)
		}

		w.dates = append(w.dates, rec[ColTimestamp])
		w.subjects = append(w.subjects, rec[ColSubject])
	}

	w.prices = pb.NewFloat64Array()
	return w, nil
}

// Close closes the underlying file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
