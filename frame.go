package msgsock

import (
	"math"
	"strconv"
)

// maxHeaderDigits bounds the length field, leading zeros included.
const maxHeaderDigits = 20

// appendHeader appends the frame header for a payload of n bytes to dst.
func appendHeader(dst []byte, n int) []byte {
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, '\n')
}

// parseHeader scans the head of buf for a digit run terminated by '\n'.
//
// It returns the payload length and the header size in bytes. ok is false
// when the header has not fully arrived yet. A byte that cannot belong to a
// header, a missing digit run or a length that overflows int is reported as
// ErrMalformedHeader.
func parseHeader(buf []byte) (length, size int, ok bool, err error) {
	n := 0
	for i, b := range buf {
		switch {
		case b >= '0' && b <= '9':
			d := int(b - '0')
			if i == maxHeaderDigits || n > (math.MaxInt-d)/10 {
				return 0, 0, false, ErrMalformedHeader
			}
			n = n*10 + d
		case b == '\n':
			if i == 0 {
				return 0, 0, false, ErrMalformedHeader
			}
			return n, i + 1, true, nil
		default:
			return 0, 0, false, ErrMalformedHeader
		}
	}
	return 0, 0, false, nil
}

// decodeFrame tries to cut one frame from the head of buf.
//
// On success it returns a copy of the payload and the number of bytes the
// frame occupied. When the frame is incomplete it returns ok == false and
// leaves the caller's buffer untouched. maxSize <= 0 disables the size check.
func decodeFrame(buf []byte, maxSize int) (payload []byte, consumed int, ok bool, err error) {
	length, size, ok, err := parseHeader(buf)
	if err != nil || !ok {
		return nil, 0, false, err
	}

	if maxSize > 0 && length > maxSize {
		return nil, 0, false, ErrMessageTooLarge
	}

	if len(buf)-size < length {
		return nil, 0, false, nil
	}

	payload = make([]byte, length)
	copy(payload, buf[size:size+length])
	return payload, size + length, true, nil
}
