package codec

import (
	"github.com/tomyedwab/fbdriver/dberr"
)

// SignedRange returns the inclusive range of a signed integer stored in width bytes.
func SignedRange(width int) (min, max int64) {
	if width >= 8 {
		return -1 << 63, 1<<63 - 1
	}
	bits := uint(8*width - 1)
	return -1 << bits, 1<<bits - 1
}

// UnsignedMax returns the largest unsigned integer stored in width bytes.
func UnsignedMax(width int) uint64 {
	if width >= 8 {
		return 1<<64 - 1
	}
	return 1<<uint(8*width) - 1
}

func checkWidth(width int) error {
	switch width {
	case 1, 2, 4, 8:
		return nil
	}
	return dberr.NewInterfaceError("unsupported integer width %d", width)
}

// EncodeLE encodes v as a signed little-endian integer of width bytes.
func EncodeLE(v int64, width int) ([]byte, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if min, max := SignedRange(width); v < min || v > max {
		return nil, dberr.NewDataError("integer overflow: %d does not fit in %d signed bytes", v, width)
	}
	buf := make([]byte, width)
	PutLE(buf, uint64(v))
	return buf, nil
}

// EncodeULE encodes v as an unsigned little-endian integer of width bytes.
func EncodeULE(v uint64, width int) ([]byte, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if v > UnsignedMax(width) {
		return nil, dberr.NewDataError("integer overflow: %d does not fit in %d unsigned bytes", v, width)
	}
	buf := make([]byte, width)
	PutLE(buf, v)
	return buf, nil
}

// EncodeBE encodes v as a signed big-endian integer of width bytes.
func EncodeBE(v int64, width int) ([]byte, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if min, max := SignedRange(width); v < min || v > max {
		return nil, dberr.NewDataError("integer overflow: %d does not fit in %d signed bytes", v, width)
	}
	buf := make([]byte, width)
	PutBE(buf, uint64(v))
	return buf, nil
}

// EncodeUBE encodes v as an unsigned big-endian integer of width bytes.
func EncodeUBE(v uint64, width int) ([]byte, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if v > UnsignedMax(width) {
		return nil, dberr.NewDataError("integer overflow: %d does not fit in %d unsigned bytes", v, width)
	}
	buf := make([]byte, width)
	PutBE(buf, v)
	return buf, nil
}

// PutLE writes the low len(dst) bytes of v into dst, least significant first.
func PutLE(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}

// PutBE writes the low len(dst) bytes of v into dst, most significant first.
func PutBE(dst []byte, v uint64) {
	n := len(dst)
	for i := range dst {
		dst[n-1-i] = byte(v >> (8 * uint(i)))
	}
}

// DecodeULE decodes up to eight little-endian bytes as an unsigned integer.
func DecodeULE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// DecodeUBE decodes up to eight big-endian bytes as an unsigned integer.
func DecodeUBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// DecodeLE decodes up to eight little-endian bytes as a signed integer,
// sign-extending from the width of b.
func DecodeLE(b []byte) int64 {
	return signExtend(DecodeULE(b), len(b))
}

// DecodeBE decodes up to eight big-endian bytes as a signed integer,
// sign-extending from the width of b.
func DecodeBE(b []byte) int64 {
	return signExtend(DecodeUBE(b), len(b))
}

func signExtend(v uint64, width int) int64 {
	if width <= 0 || width >= 8 {
		return int64(v)
	}
	shift := uint(64 - 8*width)
	return int64(v<<shift) >> shift
}
