package am2302

import "am2302-go/x/mathx"

// Protocol geometry.
const (
	// CaptureLen is the number of capture items in a complete transaction:
	// the acknowledgement items followed by one item per data bit.
	CaptureLen = ackItems + DataBits
	// DataBits is the frame width.
	DataBits = 40

	// ackItems is the number of leading items (host release + sensor
	// acknowledgement) that precede the first data bit.
	ackItems = 2
)

// Bit timing, in microseconds.
const (
	LongPulseUs  = 70 // high period of a 1 bit
	ShortPulseUs = 26 // high period of a 0 bit
	ToleranceUs  = 5  // +/- window around LongPulseUs

	bitLowUs = 50 // low setup period preceding each data bit
	ackLowUs = 80
	ackHiUs  = 80
)

// Pulse is one captured low/high period pair. Durations are in microseconds.
// Only High carries data; Low is the setup period that precedes it.
type Pulse struct {
	Low  uint16
	High uint16
}

// Frame is a decoded 40-bit transaction, MSB first:
//
//	bits 39..24  humidity
//	bits 23..8   temperature (bit 23 is the sign flag)
//	bits  7..0   checksum
type Frame uint64

const frameMask = 1<<DataBits - 1

// NewFrame assembles a frame from its fields.
func NewFrame(humidity, temperature uint16, checksum uint8) Frame {
	return Frame(uint64(humidity)<<24 | uint64(temperature)<<8 | uint64(checksum))
}

// Byte returns byte i of the frame, counted from the LSB (0 = checksum).
func (f Frame) Byte(i int) uint8 { return uint8(f >> (8 * uint(i))) }

func (f Frame) Humidity() uint16    { return uint16(f >> 24) }
func (f Frame) Temperature() uint16 { return uint16(f >> 8) }
func (f Frame) Checksum() uint8     { return uint8(f) }

// Sum is the checksum the sensor should have sent for this payload.
func (f Frame) Sum() uint8 {
	return f.Byte(1) + f.Byte(2) + f.Byte(3) + f.Byte(4)
}

// isLong reports whether a high period encodes a 1.
func isLong(us uint16) bool {
	return mathx.Abs(int32(us)-LongPulseUs) <= ToleranceUs
}

// Decode classifies 40 high periods into a frame. Element 0 becomes bit 39.
// Out-of-band durations are never rejected; they decode as 0 and are left
// for the checksum to catch.
func Decode(highs *[DataBits]uint16) Frame {
	var f Frame
	for i, us := range highs {
		if isLong(us) {
			f |= 1 << uint(DataBits-1-i)
		}
	}
	return f
}

// ChecksumResult is the outcome of Validate. Sum is the computed value,
// Expected the checksum byte carried by the frame.
type ChecksumResult struct {
	Valid    bool
	Sum      uint8
	Expected uint8
}

// Validate checks the trailing checksum byte against the payload bytes.
func Validate(f Frame) ChecksumResult {
	f &= frameMask
	sum := f.Sum()
	return ChecksumResult{Valid: sum == f.Checksum(), Sum: sum, Expected: f.Checksum()}
}

// Reading holds raw sensor units. Temperature keeps the sensor's sign flag in
// bit 15; see DeciCelsius for the interpreted value.
type Reading struct {
	Temperature int16
	Humidity    int16
}

// Extract slices a validated frame into its fields.
func Extract(f Frame) Reading {
	return Reading{
		Temperature: int16(f.Temperature()),
		Humidity:    int16(f.Humidity()),
	}
}

// DeciCelsius interprets the sign-magnitude temperature field in tenths of °C.
func (r Reading) DeciCelsius() int16 {
	v := uint16(r.Temperature)
	if v&0x8000 != 0 {
		return -int16(v & 0x7FFF)
	}
	return int16(v)
}

// DeciRelHumidity returns tenths of %RH.
func (r Reading) DeciRelHumidity() uint16 { return uint16(r.Humidity) }

// DecodeCapture runs alignment, classification, checksum and extraction over
// one capture buffer. Items past CaptureLen are ignored.
func DecodeCapture(buf []Pulse) (Reading, error) {
	if len(buf) < CaptureLen {
		return Reading{}, ErrIncompleteCapture
	}
	var highs [DataBits]uint16
	for i, p := range buf[ackItems:CaptureLen] {
		highs[i] = p.High
	}
	f := Decode(&highs)
	if res := Validate(f); !res.Valid {
		return Reading{}, &ChecksumError{Sum: res.Sum, Expected: res.Expected}
	}
	return Extract(f), nil
}

// EncodeFrame renders a frame as the capture a healthy sensor would produce.
func EncodeFrame(f Frame) []Pulse {
	buf := make([]Pulse, CaptureLen)
	buf[0] = Pulse{Low: ShortPulseUs, High: ackHiUs}
	buf[1] = Pulse{Low: ackLowUs, High: ackHiUs}
	for i := 0; i < DataBits; i++ {
		hi := uint16(ShortPulseUs)
		if f&(1<<uint(DataBits-1-i)) != 0 {
			hi = LongPulseUs
		}
		buf[ackItems+i] = Pulse{Low: bitLowUs, High: hi}
	}
	return buf
}
