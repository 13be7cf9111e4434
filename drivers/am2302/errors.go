package am2302

import (
	"errors"
	"strconv"
)

// Errors returned by the driver. Every one of them describes a single failed
// attempt; callers may simply read again.
var (
	ErrIncompleteCapture = errors.New("am2302: incomplete capture")
	ErrNoResponse        = errors.New("am2302: no response")
	ErrChecksum          = errors.New("am2302: checksum mismatch")
)

// ChecksumError carries the computed and received checksum of a rejected
// frame. It matches ErrChecksum under errors.Is.
type ChecksumError struct {
	Sum      uint8 // computed over the payload bytes
	Expected uint8 // checksum byte sent by the sensor
}

func (e *ChecksumError) Error() string {
	return ErrChecksum.Error() + ": sum=0x" + strconv.FormatUint(uint64(e.Sum), 16) +
		" want=0x" + strconv.FormatUint(uint64(e.Expected), 16)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksum }
