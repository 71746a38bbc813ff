package actuation

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection parameters of a motor
// controller link.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialSink writes commands as "U <ux> <uy>\n" lines.
type SerialSink struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// NewSerialSink wraps an already open port.
func NewSerialSink(port io.WriteCloser) *SerialSink {
	return &SerialSink{port: port}
}

// OpenSerialSink opens the device at path with opts.
func OpenSerialSink(path string, opts PortOptions) (*SerialSink, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialSink(port), nil
}

// FormatLine renders c in the serial line protocol.
func FormatLine(c Command) string {
	return fmt.Sprintf("U %.4f %.4f\n", c.U.X, c.U.Y)
}

// Send writes one line.
func (s *SerialSink) Send(c Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.port, FormatLine(c)); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Close closes the port.
func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
