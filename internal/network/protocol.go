package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame. Beacon traffic is a few hundred bytes.
const maxFrameSize = 1 << 20

// writeFrame writes data prefixed by its u32 big-endian length.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(data), maxFrameSize)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read frame length:\n%w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d", size, maxFrameSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read frame body:\n%w", err)
	}

	return data, nil
}
