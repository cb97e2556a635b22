// Package tooltest provides shell stand-ins for the select and response
// tools, and plain-text event lists they can filter.
//
// An event list holds one event time per line. The fake select tool keeps the
// lines with tmin <= t < tmax, concatenates the files named by an @list
// infile, and copies FITS inputs verbatim (it cannot filter them).
//
// Behaviour switches, read from the environment:
//
//	FAKE_FAIL_TMIN      select fails when called with this tmin
//	FAKE_FAIL_MERGE     select fails on @list merges
//	FAKE_FAIL_RESPONSE  response always fails
//	FAKE_LOG            both tools append their argument list to this file
package tooltest

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const selectScript = `#!/bin/sh
for a in "$@"; do
  case "$a" in
    infile=*) infile="${a#infile=}" ;;
    outfile=*) outfile="${a#outfile=}" ;;
    tmin=*) tmin="${a#tmin=}" ;;
    tmax=*) tmax="${a#tmax=}" ;;
  esac
done
[ -n "$FAKE_LOG" ] && echo "select $*" >> "$FAKE_LOG"
if [ -n "$FAKE_FAIL_TMIN" ] && [ "$tmin" = "$FAKE_FAIL_TMIN" ]; then
  echo "gtselect: simulated failure at tmin=$tmin" >&2
  exit 1
fi
case "$infile" in
  @*)
    if [ -n "$FAKE_FAIL_MERGE" ]; then
      echo "gtselect: simulated merge failure" >&2
      exit 2
    fi
    : > "$outfile" || exit 1
    while IFS= read -r f; do
      [ -n "$f" ] && cat "$f" >> "$outfile"
    done < "${infile#@}"
    exit 0
    ;;
esac
if [ ! -f "$infile" ]; then
  echo "gtselect: cannot open $infile" >&2
  exit 1
fi
if [ "$tmin" = "INDEF" ] || [ "$(head -c 6 "$infile")" = "SIMPLE" ]; then
  cp "$infile" "$outfile"
  exit $?
fi
awk -v lo="$tmin" -v hi="$tmax" '$1 + 0 >= lo + 0 && $1 + 0 < hi + 0' "$infile" > "$outfile"
`

const responseScript = `#!/bin/sh
for a in "$@"; do
  case "$a" in
    evfile=*) evfile="${a#evfile=}" ;;
  esac
done
[ -n "$FAKE_LOG" ] && echo "response $*" >> "$FAKE_LOG"
if [ -n "$FAKE_FAIL_RESPONSE" ]; then
  echo "gtdiffrsp: simulated failure" >&2
  exit 4
fi
if [ ! -f "$evfile" ]; then
  echo "gtdiffrsp: cannot open $evfile" >&2
  exit 1
fi
`

// Tools holds the paths of the installed fakes.
type Tools struct {
	Select   string
	Response string
}

// Install writes both fakes into a fresh temp dir.
func Install(t *testing.T) Tools {
	t.Helper()
	dir := t.TempDir()
	return Tools{
		Select:   write(t, dir, "gtselect", selectScript),
		Response: write(t, dir, "gtdiffrsp", responseScript),
	}
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	return p
}

// WriteEvents writes an event list with one line per time.
func WriteEvents(t *testing.T, dir, name string, times []float64) string {
	t.Helper()
	var b strings.Builder
	for _, v := range times {
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte('\n')
	}
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))
	return p
}

// Range returns n evenly spaced times start, start+step, ...
func Range(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// CountEvents returns the number of non-empty lines in an event list.
func CountEvents(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	require.NoError(t, sc.Err())
	return n
}

// ReadLog returns the lines written to a FAKE_LOG file.
func ReadLog(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}
