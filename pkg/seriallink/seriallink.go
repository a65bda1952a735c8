// Package seriallink owns the serial connection to the keypad. It exposes
// blocking line-oriented reads and writes and keeps "no data yet" apart
// from "link gone" so the supervisor can tell a quiet device from a pulled
// cable.
package seriallink

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Err is a stable error code. Callers match with errors.Is; the underlying
// cause stays attached through wrapping.
type Err string

func (e Err) Error() string { return string(e) }

const (
	ErrPortUnavailable Err = "serial: port unavailable"
	ErrTimeout         Err = "serial: read timeout"
	ErrDisconnected    Err = "serial: disconnected"
)

// portHandle is the slice of go.bug.st/serial.Port the link needs.
type portHandle interface {
	SetReadTimeout(t time.Duration) error
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// openPort is swapped out by tests.
var openPort = func(name string, mode *serial.Mode) (portHandle, error) {
	return serial.Open(name, mode)
}

// Link is a single open serial connection. It is single-consumer: one
// goroutine reads, and writes happen from that same goroutine between
// reads.
type Link struct {
	port    portHandle
	pending bytes.Buffer
	buf     [256]byte
}

// Open opens the port at the given baud rate, 8N1.
func Open(port string, baud int) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := openPort(port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPortUnavailable, port, err)
	}
	return &Link{port: p}, nil
}

// ReadLine returns the next newline-terminated line without its
// terminator, stripping a trailing CR. It fails with ErrTimeout when no
// complete line arrives within the timeout; partial input stays buffered
// for the next call. Any transport error fails with ErrDisconnected.
func (l *Link) ReadLine(timeout time.Duration) (string, error) {
	if line, ok := l.takeLine(); ok {
		return line, nil
	}
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return "", fmt.Errorf("%w: set read timeout: %v", ErrDisconnected, err)
	}
	for {
		n, err := l.port.Read(l.buf[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: port closed", ErrDisconnected)
			}
			return "", fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		if n == 0 {
			// go.bug.st reports an expired read timeout as a
			// zero-byte read with a nil error.
			return "", ErrTimeout
		}
		l.pending.Write(l.buf[:n])
		if line, ok := l.takeLine(); ok {
			return line, nil
		}
	}
}

func (l *Link) takeLine() (string, bool) {
	data := l.pending.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(data[:i], "\r"))
	l.pending.Next(i + 1)
	return line, true
}

// WriteLine sends one line, appending the terminator.
func (l *Link) WriteLine(line string) error {
	if _, err := l.port.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("%w: write: %v", ErrDisconnected, err)
	}
	return nil
}

// Close releases the port. Safe to call on every exit path.
func (l *Link) Close() error {
	return l.port.Close()
}
