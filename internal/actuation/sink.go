// Package actuation delivers control commands to whatever moves the agent.
package actuation

import (
	"fmt"
	"net"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// Command is one control command with its loop time in seconds.
type Command struct {
	T float64
	U r2.Vec
}

// Sink accepts commands. Send must be safe to call from a single control
// goroutine; implementations here are also safe for concurrent use.
type Sink interface {
	Send(Command) error
	Close() error
}

// UDPSink sends each command as one CSV datagram "t,ux,uy".
type UDPSink struct {
	conn *net.UDPConn
}

// NewUDPSink dials addr ("host:port").
func NewUDPSink(addr string) (*UDPSink, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve actuation address %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial actuation address %q: %w", addr, err)
	}
	return &UDPSink{conn: conn}, nil
}

// FormatCSV renders c as "t,ux,uy".
func FormatCSV(c Command) string {
	return fmt.Sprintf("%.3f,%.6f,%.6f", c.T, c.U.X, c.U.Y)
}

// Send writes one datagram.
func (s *UDPSink) Send(c Command) error {
	if _, err := s.conn.Write([]byte(FormatCSV(c))); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// Close closes the socket.
func (s *UDPSink) Close() error { return s.conn.Close() }

// MemorySink keeps every command it receives.
type MemorySink struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
	Err      error // returned by Send when set
}

// Send records c.
func (s *MemorySink) Send(c Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.closed {
		return fmt.Errorf("send on closed sink")
	}
	s.commands = append(s.commands, c)
	return nil
}

// Close marks the sink closed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Commands returns a copy of the recorded commands.
func (s *MemorySink) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}
