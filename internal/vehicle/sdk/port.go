package sdk

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBaudRate    = 115200
	defaultReadTimeout = 100 * time.Millisecond
)

// PortOptions describes the serial link to the flight controller bridge.
type PortOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Normalize applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate == 0 {
		opts.BaudRate = defaultBaudRate
	}
	if opts.BaudRate < 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ReadTimeout < 0 {
		return opts, fmt.Errorf("invalid read timeout %s", opts.ReadTimeout)
	}

	return opts, nil
}

// SerialMode converts the options into the mode required by go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}

// Open opens the serial port at path and returns a vehicle speaking the line
// protocol over it.
func Open(path string, opts PortOptions, options ...func(*Vehicle)) (*Vehicle, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("serial options: %w", err)
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options: %w", err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	if err = port.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}

	return New(port, options...), nil
}
