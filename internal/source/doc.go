// Package source exposes a delimited transaction file as a randomly
// sliceable sequence of rows.
//
// Open indexes the byte offset of every data row once; Slice then reads any
// window by row offset and length through an io.SectionReader, so a file is
// never loaded into memory whole.
//
// Expected layout: a header row followed by rows of
//
//	date (MM/DD/YYYY), price (may be empty or null), subject id
//
// Within a Window the price column is an Arrow Float64 array whose validity
// bitmap records missing prices. FillNullPrice replaces them column-wide
// before Records or Prices extract per-row values.
package source
