package command

import (
	"encoding/hex"
	"strings"
)

// Frame is an immutable control frame.
type Frame struct {
	b []byte
}

// Bytes returns a copy of the frame contents.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.b))
	copy(out, f.b)
	return out
}

func (f Frame) Len() int { return len(f.b) }

// String renders the frame as space separated hex, e.g. "00 03 01 00".
func (f Frame) String() string {
	parts := make([]string, len(f.b))
	for i, c := range f.b {
		parts[i] = hex.EncodeToString([]byte{c})
	}
	return strings.Join(parts, " ")
}
