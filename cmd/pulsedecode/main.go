// pulsedecode decodes a recorded AM2302 capture.
//
//	pulsedecode capture.txt
//	pulsedecode -gen "400 200" > capture.txt
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"am2302-go/drivers/am2302"
	"am2302-go/errcode"
)

var gen = flag.String("gen", "", `write a capture for "humidity temperature" (raw units) instead of decoding`)

func main() {
	flag.Parse()
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	if *gen != "" {
		if err := generate(os.Stdout, *gen); err != nil {
			log.Fatal(err)
		}
		return
	}

	in := io.Reader(os.Stdin)
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		in = f
	}

	pulses, err := ParseCapture(in)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	line, err := describe(pulses)
	fmt.Println(line)
	if err != nil {
		os.Exit(1)
	}
}

// describe renders the outcome of decoding one capture.
func describe(pulses []am2302.Pulse) (string, error) {
	r, err := am2302.DecodeCapture(pulses)
	if err != nil {
		var ce *am2302.ChecksumError
		if errors.As(err, &ce) {
			return fmt.Sprintf("%s sum=0x%02X expected=0x%02X", errcode.ChecksumMismatch, ce.Sum, ce.Expected), err
		}
		return fmt.Sprintf("%s items=%d", errcode.MapDriverErr(err), len(pulses)), err
	}
	dc := r.DeciCelsius()
	sign := ""
	if dc < 0 {
		sign, dc = "-", -dc
	}
	return fmt.Sprintf("temperature=%s%d.%d°C humidity=%d.%d%% raw=(%d,%d)",
		sign, dc/10, dc%10, r.Humidity/10, r.Humidity%10, r.Temperature, r.Humidity), nil
}

func generate(w io.Writer, spec string) error {
	parts := strings.Fields(spec)
	if len(parts) != 2 {
		return errors.New(`-gen wants "humidity temperature"`)
	}
	h, err := strconv.ParseUint(parts[0], 0, 16)
	if err != nil {
		return errors.Wrap(err, "humidity")
	}
	t, err := strconv.ParseUint(parts[1], 0, 16)
	if err != nil {
		return errors.Wrap(err, "temperature")
	}
	f := am2302.NewFrame(uint16(h), uint16(t), 0)
	f = am2302.NewFrame(uint16(h), uint16(t), f.Sum())

	fmt.Fprintf(w, "# humidity=%d temperature=%d checksum=0x%02X\n", h, t, f.Checksum())
	for i, p := range am2302.EncodeFrame(f) {
		if i == 2 {
			fmt.Fprintln(w, "# data")
		}
		fmt.Fprintf(w, "%d %d\n", p.Low, p.High)
	}
	return nil
}
