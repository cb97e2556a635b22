// Package fitstest writes minimal FITS event files for tests: a primary HDU
// carrying TSTART/TSTOP and one events extension, an empty image or a small
// binary table, carrying whatever region keywords a test needs.
package fitstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"diffrsp/internal/core"
)

const (
	cardLen  = 80
	blockLen = 2880
)

// Card is one header keyword. Value is rendered as a FITS string when Str is
// set and verbatim (number or logical) otherwise.
type Card struct {
	Key   string
	Value string
	Str   bool
}

// String returns a string-valued card.
func String(key, value string) Card { return Card{Key: key, Value: value, Str: true} }

// Number returns a numeric card.
func Number(key string, v float64) Card {
	s := core.FormatFloat(v)
	if !bytes.ContainsAny([]byte(s), ".eE") {
		s += ".0"
	}
	return Card{Key: key, Value: s}
}

// Spec describes the file to write.
type Spec struct {
	Start float64
	Stop  float64

	// Events holds the extension keywords, e.g. DSTYP1/DSVAL1.
	Events []Card

	// OmitTimes drops TSTART/TSTOP from the primary header.
	OmitTimes bool

	// Table writes the events extension as a BINTABLE with one row per
	// event instead of an empty image.
	Table bool

	// Columns overrides the table layout. The default is TIME (1D) and
	// ENERGY (1E). A column with an empty Name gets a TFORMn but no TTYPEn.
	Columns []Column

	// Rows is the number of table rows. Zero means four events spread
	// evenly over [Start, Stop).
	Rows int

	// Sparse leaves the table data out of Bytes. Write then extends the
	// file to its full length without writing the rows.
	Sparse bool
}

// Column is one binary table field. Format is a repeat count of one followed
// by a type code: B, I, J, K, E or D.
type Column struct {
	Name   string
	Format string
}

var defaultColumns = []Column{{Name: "TIME", Format: "1D"}, {Name: "ENERGY", Format: "1E"}}

func (c Column) width() int {
	switch strings.TrimPrefix(c.Format, "1") {
	case "B":
		return 1
	case "I":
		return 2
	case "J", "E":
		return 4
	case "K", "D":
		return 8
	}
	panic("fitstest: unsupported column format " + c.Format)
}

func (s Spec) columns() []Column {
	if len(s.Columns) > 0 {
		return s.Columns
	}
	return defaultColumns
}

func (s Spec) rows() int {
	if s.Rows > 0 {
		return s.Rows
	}
	return 4
}

func (s Spec) rowLen() int {
	n := 0
	for _, c := range s.columns() {
		n += c.width()
	}
	return n
}

// Size is the length of the file spec describes, data padding included.
func Size(spec Spec) int64 {
	n := int64(len(Bytes(spec)))
	if spec.Table && spec.Sparse {
		n += padded(int64(spec.rows()) * int64(spec.rowLen()))
	}
	return n
}

func padded(n int64) int64 {
	if rem := n % blockLen; rem != 0 {
		n += blockLen - rem
	}
	return n
}

// Region returns the data-subspace cards describing r.
func Region(n int, r core.Region) []Card {
	return []Card{
		String(fmt.Sprintf("DSTYP%d", n), "POS(RA,DEC)"),
		String(fmt.Sprintf("DSUNI%d", n), "deg"),
		String(fmt.Sprintf("DSVAL%d", n), r.String()),
	}
}

// Write writes a FITS file built from spec into dir/name and returns its path.
func Write(t testing.TB, dir, name string, spec Spec) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Bytes(spec), 0o644); err != nil {
		t.Fatalf("write fits fixture: %v", err)
	}
	if spec.Table && spec.Sparse {
		if err := os.Truncate(path, Size(spec)); err != nil {
			t.Fatalf("extend fits fixture: %v", err)
		}
	}
	return path
}

// Bytes renders spec as FITS bytes.
func Bytes(spec Spec) []byte {
	var buf bytes.Buffer

	primary := []Card{
		{Key: "SIMPLE", Value: "T"},
		{Key: "BITPIX", Value: "8"},
		{Key: "NAXIS", Value: "0"},
		{Key: "EXTEND", Value: "T"},
	}
	if !spec.OmitTimes {
		primary = append(primary, Number("TSTART", spec.Start), Number("TSTOP", spec.Stop))
	}
	writeHeader(&buf, primary)

	if spec.Table {
		writeTable(&buf, spec)
		return buf.Bytes()
	}

	ext := []Card{
		String("XTENSION", "IMAGE"),
		{Key: "BITPIX", Value: "8"},
		{Key: "NAXIS", Value: "1"},
		{Key: "NAXIS1", Value: "1"},
		{Key: "PCOUNT", Value: "0"},
		{Key: "GCOUNT", Value: "1"},
		String("EXTNAME", "EVENTS"),
	}
	writeHeader(&buf, append(ext, spec.Events...))

	data := make([]byte, blockLen)
	buf.Write(data)
	return buf.Bytes()
}

func writeTable(buf *bytes.Buffer, spec Spec) {
	cols := spec.columns()
	rows := spec.rows()
	ext := []Card{
		String("XTENSION", "BINTABLE"),
		{Key: "BITPIX", Value: "8"},
		{Key: "NAXIS", Value: "2"},
		{Key: "NAXIS1", Value: strconv.Itoa(spec.rowLen())},
		{Key: "NAXIS2", Value: strconv.Itoa(rows)},
		{Key: "PCOUNT", Value: "0"},
		{Key: "GCOUNT", Value: "1"},
		{Key: "TFIELDS", Value: strconv.Itoa(len(cols))},
	}
	for i, c := range cols {
		if c.Name != "" {
			ext = append(ext, String(fmt.Sprintf("TTYPE%d", i+1), c.Name))
		}
		ext = append(ext, String(fmt.Sprintf("TFORM%d", i+1), c.Format))
	}
	ext = append(ext, String("EXTNAME", "EVENTS"))
	writeHeader(buf, append(ext, spec.Events...))
	if spec.Sparse {
		return
	}

	start := buf.Len()
	step := (spec.Stop - spec.Start) / float64(rows)
	for r := 0; r < rows; r++ {
		t := spec.Start + step*float64(r)
		for _, c := range cols {
			writeField(buf, c, t, 100+float64(r))
		}
	}
	for (buf.Len()-start)%blockLen != 0 {
		buf.WriteByte(0)
	}
}

// writeField writes the event time into D columns and the energy into every
// other column, big-endian as FITS requires.
func writeField(buf *bytes.Buffer, c Column, t, energy float64) {
	var b [8]byte
	switch c.width() {
	case 1:
		buf.WriteByte(byte(energy))
		return
	case 2:
		binary.BigEndian.PutUint16(b[:], uint16(energy))
	case 4:
		if strings.HasSuffix(c.Format, "E") {
			binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(energy)))
		} else {
			binary.BigEndian.PutUint32(b[:], uint32(energy))
		}
	case 8:
		if strings.HasSuffix(c.Format, "D") {
			binary.BigEndian.PutUint64(b[:], math.Float64bits(t))
		} else {
			binary.BigEndian.PutUint64(b[:], uint64(energy))
		}
	}
	buf.Write(b[:c.width()])
}

func writeHeader(buf *bytes.Buffer, cards []Card) {
	start := buf.Len()
	for _, c := range cards {
		var line string
		if c.Str {
			v := "'" + c.Value + "'"
			if len(c.Value) < 8 {
				v = fmt.Sprintf("'%-8s'", c.Value)
			}
			line = fmt.Sprintf("%-8s= %s", c.Key, v)
		} else {
			line = fmt.Sprintf("%-8s= %20s", c.Key, c.Value)
		}
		buf.WriteString(fmt.Sprintf("%-80s", line))
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	for (buf.Len()-start)%blockLen != 0 {
		buf.WriteByte(' ')
	}
}
