package main

import (
	"bufio"
	"io"
	"strconv"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	"am2302-go/drivers/am2302"
)

// ParseCapture reads one "low high" pair of microsecond widths per line.
// Blank lines and # comments are skipped.
func ParseCapture(r io.Reader) ([]am2302.Pulse, error) {
	var out []am2302.Pulse
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		fields, err := shlex.Split(sc.Text())
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, errors.Errorf("line %d: want \"low high\", got %d fields", line, len(fields))
		}
		lo, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: low", line)
		}
		hi, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: high", line)
		}
		out = append(out, am2302.Pulse{Low: uint16(lo), High: uint16(hi)})
	}
	return out, errors.Wrap(sc.Err(), "read capture")
}
