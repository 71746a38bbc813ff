package actuation

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"gonum.org/v1/gonum/spatial/r2"
)

type fakePort struct {
	bytes.Buffer
	closed   bool
	writeErr error
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.Buffer.Write(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, got)
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"explicit", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, false},
		{"long parity name", PortOptions{BaudRate: 9600, Parity: " odd "}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "O"}, false},
		{"negative baud", PortOptions{BaudRate: -5}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 57600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{Parity: "X"}.SerialMode()
	assert.Error(t, err)
}

func TestSerialSink_WritesLines(t *testing.T) {
	port := &fakePort{}
	sink := NewSerialSink(port)

	require.NoError(t, sink.Send(Command{U: r2.Vec{X: 0.5, Y: -1}}))
	require.NoError(t, sink.Send(Command{U: r2.Vec{}}))
	assert.Equal(t, "U 0.5000 -1.0000\nU 0.0000 0.0000\n", port.String())

	require.NoError(t, sink.Close())
	assert.True(t, port.closed)
}

func TestSerialSink_WriteError(t *testing.T) {
	cause := errors.New("unplugged")
	sink := NewSerialSink(&fakePort{writeErr: cause})
	err := sink.Send(Command{})
	assert.ErrorIs(t, err, cause)
}

func TestOpenSerialSink_BadOptions(t *testing.T) {
	_, err := OpenSerialSink("/dev/null", PortOptions{DataBits: 4})
	assert.Error(t, err)
}
