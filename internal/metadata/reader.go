// Package metadata reads the partitioning metadata of an event file: the
// global time bounds from the primary header and the selection region from
// the events extension.
package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"

	"diffrsp/internal/core"
)

// Header keywords.
const (
	KeyStart = "TSTART"
	KeyStop  = "TSTOP"

	// Data-subspace keywords: DSTYPn names a selection, DSVALn holds its value.
	dsTypePrefix = "DSTYP"
	dsValPrefix  = "DSVAL"
	dsTypeRegion = "POS(RA,DEC)"

	circleToken = "CIRCLE"
)

// Reader reads dataset metadata. The zero value is ready to use.
type Reader struct{}

// Read opens the event file at path and returns its Dataset. Only the
// primary header and the first extension header are decoded; data units are
// skipped. The file is closed before Read returns.
func (Reader) Read(path string) (ds core.Dataset, err error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Dataset{}, &core.MetadataError{Path: path, Msg: "open", Cause: err}
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			ds = core.Dataset{}
			err = &core.MetadataError{Path: path, Msg: "decode FITS", Cause: fmt.Errorf("%v", r)}
		}
	}()

	hr := &headerReader{r: f}
	primary, err := hr.next(true)
	if err != nil {
		return core.Dataset{}, &core.MetadataError{Path: path, Msg: "decode FITS", Cause: err}
	}
	events, err := hr.next(false)
	if errors.Is(err, io.EOF) {
		return core.Dataset{}, &core.MetadataError{Path: path, Msg: "expected a primary header and an events extension, found 1 HDU"}
	}
	if err != nil {
		return core.Dataset{}, &core.MetadataError{Path: path, Msg: "decode FITS", Cause: err}
	}

	start, err := floatCard(primary, KeyStart)
	if err != nil {
		return core.Dataset{}, &core.MetadataError{Path: path, Cause: err}
	}
	stop, err := floatCard(primary, KeyStop)
	if err != nil {
		return core.Dataset{}, &core.MetadataError{Path: path, Cause: err}
	}

	region, err := FindRegion(events)
	if err != nil {
		return core.Dataset{}, &core.MetadataError{Path: path, Cause: err}
	}

	return core.Dataset{Path: path, Start: start, Stop: stop, Region: region}, nil
}

// ReadRegion returns only the selection region of the event file at path.
func (r Reader) ReadRegion(path string) (core.Region, error) {
	ds, err := r.Read(path)
	if err != nil {
		return core.Region{}, err
	}
	return ds.Region, nil
}

func floatCard(hdr *fitsio.Header, key string) (float64, error) {
	card := hdr.Get(key)
	if card == nil {
		return 0, fmt.Errorf("primary header has no %s keyword", key)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s is not numeric: %q", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s has unsupported type %T", key, card.Value)
	}
}

// FindRegion locates the circular selection region in an extension header.
//
// The region is looked up structurally first: a DSVALn whose DSTYPn is
// POS(RA,DEC). Headers without data-subspace keywords fall back to any string
// value starting with CIRCLE. Either way exactly one candidate must exist;
// more than one is core.ErrAmbiguousRegion.
func FindRegion(hdr *fitsio.Header) (core.Region, error) {
	cards := make([]fitsio.Card, 0, len(hdr.Keys()))
	for _, k := range hdr.Keys() {
		if c := hdr.Get(k); c != nil {
			cards = append(cards, *c)
		}
	}
	return findRegion(cards)
}

func findRegion(cards []fitsio.Card) (core.Region, error) {
	candidates := subspaceRegions(cards)
	if len(candidates) == 0 {
		candidates = circleValues(cards)
	}
	switch len(candidates) {
	case 0:
		return core.Region{}, fmt.Errorf("no %s region descriptor in events header", circleToken)
	case 1:
		r, err := ParseRegion(candidates[0].value)
		if err != nil {
			return core.Region{}, fmt.Errorf("%s: %w", candidates[0].key, err)
		}
		return r, nil
	default:
		keys := make([]string, len(candidates))
		for i, c := range candidates {
			keys[i] = c.key
		}
		return core.Region{}, fmt.Errorf("%w: %s", core.ErrAmbiguousRegion, strings.Join(keys, ", "))
	}
}

type candidate struct {
	key   string
	value string
}

func subspaceRegions(cards []fitsio.Card) []candidate {
	types := map[string]string{}
	values := map[string]string{}
	for _, c := range cards {
		s, ok := c.Value.(string)
		if !ok {
			continue
		}
		name := strings.ToUpper(strings.TrimSpace(c.Name))
		switch {
		case strings.HasPrefix(name, dsTypePrefix):
			types[strings.TrimPrefix(name, dsTypePrefix)] = strings.ToUpper(strings.TrimSpace(s))
		case strings.HasPrefix(name, dsValPrefix):
			values[strings.TrimPrefix(name, dsValPrefix)] = strings.TrimSpace(s)
		}
	}

	var out []candidate
	for n, typ := range types {
		if typ != dsTypeRegion {
			continue
		}
		if v, ok := values[n]; ok && strings.HasPrefix(strings.ToUpper(v), circleToken) {
			out = append(out, candidate{key: dsValPrefix + n, value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func circleValues(cards []fitsio.Card) []candidate {
	var out []candidate
	for _, c := range cards {
		s, ok := c.Value.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(s), circleToken) {
			out = append(out, candidate{key: c.Name, value: strings.TrimSpace(s)})
		}
	}
	return out
}

var circleRe = regexp.MustCompile(`(?i)^\s*CIRCLE\s*\(([^)]*)\)\s*$`)

// ParseRegion parses "CIRCLE(ra,dec,radius)" into a Region.
func ParseRegion(s string) (core.Region, error) {
	m := circleRe.FindStringSubmatch(s)
	if m == nil {
		return core.Region{}, fmt.Errorf("not a CIRCLE(ra,dec,radius) descriptor: %q", s)
	}
	parts := strings.Split(m[1], ",")
	if len(parts) != 3 {
		return core.Region{}, fmt.Errorf("CIRCLE needs 3 components, got %d: %q", len(parts), s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Region{}, fmt.Errorf("CIRCLE component %d is not numeric: %q", i+1, strings.TrimSpace(p))
		}
		vals[i] = v
	}
	r := core.Region{RA: vals[0], Dec: vals[1], Radius: vals[2]}
	if err := r.Validate(); err != nil {
		return core.Region{}, err
	}
	return r, nil
}
