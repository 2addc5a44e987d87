// Package command builds the fixed-format control frames understood by the
// headset's "SPP Dev" service.
//
// Every frame is a hard-coded byte template. Commands can only be built
// through the constructors below, so a malformed frame cannot be expressed.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand is returned by Parse for words that do not name a command.
var ErrUnknownCommand = errors.New("unknown command")

// Operation identifies the kind of control instruction.
type Operation int

const (
	OpInit Operation = iota
	OpNoiseCancelling
	OpQueryPairedDevices
)

func (o Operation) String() string {
	switch o {
	case OpInit:
		return "init"
	case OpNoiseCancelling:
		return "nc"
	case OpQueryPairedDevices:
		return "paired-devices"
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// NoiseLevel is a noise cancellation setting. The zero value is NoiseOff.
type NoiseLevel struct {
	v byte
}

var (
	NoiseOff    = NoiseLevel{0x00}
	NoiseMedium = NoiseLevel{0x03}
	NoiseHigh   = NoiseLevel{0x01}
)

func (l NoiseLevel) String() string {
	switch l {
	case NoiseMedium:
		return "medium"
	case NoiseHigh:
		return "high"
	}
	return "off"
}

// ParseNoiseLevel maps "off", "medium" or "high" to a level.
func ParseNoiseLevel(s string) (NoiseLevel, error) {
	switch strings.ToLower(s) {
	case "off":
		return NoiseOff, nil
	case "medium", "med":
		return NoiseMedium, nil
	case "high":
		return NoiseHigh, nil
	}
	return NoiseOff, fmt.Errorf("%w: noise level %q", ErrUnknownCommand, s)
}

// Command is a single control instruction.
type Command struct {
	op    Operation
	level NoiseLevel
}

// Init is the handshake sent right after the channel opens.
func Init() Command {
	return Command{op: OpInit}
}

// NoiseCancelling sets the noise cancellation level.
func NoiseCancelling(level NoiseLevel) Command {
	return Command{op: OpNoiseCancelling, level: level}
}

// QueryPairedDevices asks the headset for the devices paired with it.
func QueryPairedDevices() Command {
	return Command{op: OpQueryPairedDevices}
}

func (c Command) Operation() Operation { return c.op }

func (c Command) String() string {
	if c.op == OpNoiseCancelling {
		return c.op.String() + " " + c.level.String()
	}
	return c.op.String()
}

// Frame returns the bytes for c.
func (c Command) Frame() Frame {
	switch c.op {
	case OpNoiseCancelling:
		return Frame{b: []byte{0x01, 0x06, 0x02, 0x01, c.level.v}}
	case OpQueryPairedDevices:
		return Frame{b: []byte{0x04, 0x04, 0x01, 0x00}}
	default:
		return Frame{b: []byte{0x00, 0x03, 0x01, 0x00}}
	}
}

// Parse turns UI words into a command, e.g. "nc high" or "init".
func Parse(op string, args ...string) (Command, error) {
	switch strings.ToLower(op) {
	case "init":
		return Init(), nil
	case "paired-devices", "paired":
		return QueryPairedDevices(), nil
	case "nc", "noise", "noise-cancelling":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: %s needs one level (off, medium, high)", ErrUnknownCommand, op)
		}
		level, err := ParseNoiseLevel(args[0])
		if err != nil {
			return Command{}, err
		}
		return NoiseCancelling(level), nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, op)
}
