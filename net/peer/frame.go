package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

const (
	frameHeaderSize = 5 // 1 byte for type + 4 byte for uint32 size
	MaxFrameSize    = 16 << 20
)

var ErrFrameTooLarge = errors.New("frame is too large")

// WriteFrame writes a typed length prefixed frame
func WriteFrame(w io.Writer, tp byte, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = tp
	binary.LittleEndian.PutUint32(buf[1:frameHeaderSize], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads a frame into buf, the returned payload is valid until the next call with the same buf
func ReadFrame(r io.Reader, buf []byte) (tp byte, payload []byte, err error) {
	var header [frameHeaderSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return
	}
	tp = header[0]
	size := binary.LittleEndian.Uint32(header[1:])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, size)
	}
	payload = slices.Grow(buf[:0], int(size))[:size]
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return
}
