package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

const (
	cardLen   = 80
	blockLen  = 2880
	blockRows = blockLen / cardLen

	// maxHeaderBlocks bounds a header that never reaches END.
	maxHeaderBlocks = 1024
)

// headerReader walks the HDUs of a FITS stream one header at a time. Data
// units are skipped, never read into memory.
type headerReader struct {
	r     io.ReadSeeker
	block [blockLen]byte
}

// next decodes the header at the current position and seeks past its data
// unit.
func (hr *headerReader) next(primary bool) (*fitsio.Header, error) {
	cards, err := hr.cards()
	if err != nil {
		return nil, err
	}
	htype, bitpix, axes, size, err := layout(cards, primary)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if _, err := hr.r.Seek(size, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip data unit: %w", err)
		}
	}
	return fitsio.NewHeader(cards, htype, bitpix, axes), nil
}

// cards reads header blocks up to and including the one holding END.
func (hr *headerReader) cards() ([]fitsio.Card, error) {
	var cards []fitsio.Card
	for n := 0; n < maxHeaderBlocks; n++ {
		if _, err := io.ReadFull(hr.r, hr.block[:]); err != nil {
			if errors.Is(err, io.EOF) && n == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header block: %w", err)
		}
		for i := 0; i < blockRows; i++ {
			line := hr.block[i*cardLen : (i+1)*cardLen]
			card, err := parseCard(line)
			if err != nil {
				return nil, err
			}
			switch card.Name {
			case "END":
				return cards, nil
			case "CONTINUE":
				if err := appendContinue(cards, card); err != nil {
					return nil, err
				}
				continue
			}
			cards = append(cards, card)
		}
	}
	return nil, fmt.Errorf("no END card in the first %d header blocks", maxHeaderBlocks)
}

// appendContinue folds a long-string continuation into the card before it.
func appendContinue(cards []fitsio.Card, c fitsio.Card) error {
	if len(cards) == 0 {
		return errors.New("CONTINUE card with nothing to continue")
	}
	last := &cards[len(cards)-1]
	s, ok := last.Value.(string)
	if !ok || !strings.HasSuffix(s, "&") {
		return fmt.Errorf("CONTINUE after non-string card %s", last.Name)
	}
	more, _ := c.Value.(string)
	last.Value = strings.TrimSuffix(s, "&") + more
	return nil
}

// parseCard decodes one 80-column header record. Commentary records carry
// only a Comment. CONTINUE records carry their string in Value.
func parseCard(line []byte) (fitsio.Card, error) {
	name := strings.TrimSpace(string(line[:8]))
	if name == "CONTINUE" {
		v, _, err := parseString(bytes.TrimLeft(line[8:], " "))
		if err != nil {
			return fitsio.Card{}, fmt.Errorf("CONTINUE: %w", err)
		}
		return fitsio.Card{Name: name, Value: v}, nil
	}
	if name == "END" || !bytes.HasPrefix(line[8:], []byte("= ")) {
		return fitsio.Card{Name: name, Comment: strings.TrimRight(string(line[8:]), " ")}, nil
	}
	if name == "COMMENT" || name == "HISTORY" {
		return fitsio.Card{Name: name, Comment: strings.TrimRight(string(line[8:]), " ")}, nil
	}

	rest := bytes.TrimLeft(line[10:], " ")
	card := fitsio.Card{Name: name}
	if len(rest) == 0 {
		return card, nil
	}
	if rest[0] == '\'' {
		v, tail, err := parseString(rest)
		if err != nil {
			return fitsio.Card{}, fmt.Errorf("%s: %w", name, err)
		}
		card.Value = v
		card.Comment = comment(tail)
		return card, nil
	}

	raw := rest
	if i := bytes.IndexByte(rest, '/'); i >= 0 {
		raw = rest[:i]
		card.Comment = strings.TrimSpace(string(rest[i+1:]))
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return card, nil
	}
	v, err := parseValue(tok)
	if err != nil {
		return fitsio.Card{}, fmt.Errorf("%s: %w", name, err)
	}
	card.Value = v
	return card, nil
}

// parseString reads a quoted FITS string starting at b[0]. Doubled quotes
// stand for one quote; trailing blanks are not significant.
func parseString(b []byte) (string, []byte, error) {
	if len(b) == 0 || b[0] != '\'' {
		return "", nil, errors.New("expected a quoted string")
	}
	var sb strings.Builder
	for i := 1; i < len(b); i++ {
		if b[i] != '\'' {
			sb.WriteByte(b[i])
			continue
		}
		if i+1 < len(b) && b[i+1] == '\'' {
			sb.WriteByte('\'')
			i++
			continue
		}
		return strings.TrimRight(sb.String(), " "), b[i+1:], nil
	}
	return "", nil, errors.New("unterminated string")
}

func comment(tail []byte) string {
	if i := bytes.IndexByte(tail, '/'); i >= 0 {
		return strings.TrimSpace(string(tail[i+1:]))
	}
	return ""
}

func parseValue(tok string) (any, error) {
	switch tok {
	case "T":
		return true, nil
	case "F":
		return false, nil
	}
	if strings.HasPrefix(tok, "(") && strings.HasSuffix(tok, ")") {
		parts := strings.Split(tok[1:len(tok)-1], ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad complex value %q", tok)
		}
		re, err1 := parseFloat(parts[0])
		im, err2 := parseFloat(parts[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("bad complex value %q", tok)
		}
		return complex(re, im), nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return int(i), nil
	}
	f, err := parseFloat(tok)
	if err != nil {
		return nil, fmt.Errorf("bad value %q", tok)
	}
	return f, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.NewReplacer("D", "E", "d", "e").Replace(strings.TrimSpace(s))
	return strconv.ParseFloat(s, 64)
}

// layout derives the HDU type and data unit size of a header. The size
// includes the padding to a whole block.
func layout(cards []fitsio.Card, primary bool) (htype fitsio.HDUType, bitpix int, axes []int, size int64, err error) {
	get := func(key string) (fitsio.Card, bool) {
		for _, c := range cards {
			if c.Name == key {
				return c, true
			}
		}
		return fitsio.Card{}, false
	}
	intCard := func(key string, def int, required bool) (int, error) {
		c, ok := get(key)
		if !ok {
			if required {
				return 0, fmt.Errorf("missing mandatory %s keyword", key)
			}
			return def, nil
		}
		v, ok := c.Value.(int)
		if !ok {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, c.Value)
		}
		return v, nil
	}

	if len(cards) == 0 {
		return 0, 0, nil, 0, errors.New("empty header")
	}
	first := cards[0]
	switch {
	case primary:
		if first.Name != "SIMPLE" || first.Value != true {
			return 0, 0, nil, 0, errors.New("not a FITS file: missing SIMPLE = T")
		}
		htype = fitsio.IMAGE_HDU
	case first.Name == "XTENSION":
		switch x, _ := first.Value.(string); strings.TrimSpace(x) {
		case "IMAGE":
			htype = fitsio.IMAGE_HDU
		case "TABLE":
			htype = fitsio.ASCII_TBL
		case "BINTABLE", "A3DTABLE":
			htype = fitsio.BINARY_TBL
		default:
			return 0, 0, nil, 0, fmt.Errorf("unsupported extension type %v", first.Value)
		}
	default:
		return 0, 0, nil, 0, fmt.Errorf("extension header starts with %s, not XTENSION", first.Name)
	}

	if bitpix, err = intCard("BITPIX", 0, true); err != nil {
		return
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return 0, 0, nil, 0, fmt.Errorf("invalid BITPIX %d", bitpix)
	}
	naxis, err := intCard("NAXIS", 0, true)
	if err != nil {
		return
	}
	if naxis < 0 || naxis > 999 {
		return 0, 0, nil, 0, fmt.Errorf("invalid NAXIS %d", naxis)
	}
	axes = make([]int, naxis)
	for i := range axes {
		if axes[i], err = intCard(fmt.Sprintf("NAXIS%d", i+1), 0, true); err != nil {
			return
		}
		if axes[i] < 0 {
			return 0, 0, nil, 0, fmt.Errorf("negative NAXIS%d", i+1)
		}
	}

	pcount, gcount := 0, 1
	if !primary {
		if pcount, err = intCard("PCOUNT", 0, true); err != nil {
			return
		}
		if gcount, err = intCard("GCOUNT", 1, true); err != nil {
			return
		}
		if pcount < 0 || gcount < 0 {
			return 0, 0, nil, 0, errors.New("negative PCOUNT or GCOUNT")
		}
	}
	if htype != fitsio.IMAGE_HDU {
		if err = checkColumns(cards, intCard); err != nil {
			return
		}
	}

	if size, err = dataSize(bitpix, axes, pcount, gcount); err != nil {
		return
	}
	return htype, bitpix, axes, size, nil
}

// checkColumns requires TFIELDS and one TFORMn per field.
func checkColumns(cards []fitsio.Card, intCard func(string, int, bool) (int, error)) error {
	n, err := intCard("TFIELDS", 0, true)
	if err != nil {
		return err
	}
	if n < 0 || n > 999 {
		return fmt.Errorf("invalid TFIELDS %d", n)
	}
	forms := map[string]bool{}
	for _, c := range cards {
		if strings.HasPrefix(c.Name, "TFORM") {
			forms[c.Name] = true
		}
	}
	for i := 1; i <= n; i++ {
		if key := "TFORM" + strconv.Itoa(i); !forms[key] {
			return fmt.Errorf("table declares %d fields but has no %s", n, key)
		}
	}
	return nil
}

// dataSize is |BITPIX|/8 * GCOUNT * (PCOUNT + NAXIS1*...*NAXISn), rounded up
// to whole blocks. A header with NAXIS = 0 has no data unit.
func dataSize(bitpix int, axes []int, pcount, gcount int) (int64, error) {
	if len(axes) == 0 {
		return 0, nil
	}
	overflow := fmt.Errorf("data unit size overflows (NAXIS=%v)", axes)
	mul := func(a, b uint64) (uint64, bool) {
		hi, lo := bits.Mul64(a, b)
		return lo, hi == 0
	}
	n := uint64(1)
	var ok bool
	for _, ax := range axes {
		if n, ok = mul(n, uint64(ax)); !ok {
			return 0, overflow
		}
	}
	n += uint64(pcount)
	if n, ok = mul(n, uint64(gcount)); !ok {
		return 0, overflow
	}
	if n, ok = mul(n, uint64(abs(bitpix)/8)); !ok {
		return 0, overflow
	}
	if rem := n % blockLen; rem != 0 {
		n += blockLen - rem
	}
	if n > math.MaxInt64 {
		return 0, overflow
	}
	return int64(n), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
