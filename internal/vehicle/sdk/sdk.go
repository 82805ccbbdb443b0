// Package sdk drives a vehicle over a newline-delimited text protocol, as
// spoken by a flight controller bridge on a serial link.
//
// Every request is a single line. Commands are answered with "ok" or
// "error <reason>"; queries ("height?", "yaw?", "flowx?", "flowy?") are
// answered with a decimal number or "error <reason>".
package sdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/vehicle"
)

const (
	defaultResponseTimeout = 7 * time.Second
	defaultMaxParseErrors  = 5

	// resyncIdle is how long the port must stay silent before a resync
	// stops waiting for owed replies.
	resyncIdle = 250 * time.Millisecond

	replyOK    = "ok"
	replyError = "error"
)

var (
	ErrResponseTimeout    = errors.New("no response from vehicle")
	ErrTooManyParseErrors = errors.New("too many consecutive unparseable replies")
	ErrClosed             = errors.New("connection closed")
)

// WithLogger sets the logger for the vehicle
func WithLogger(logger *slog.Logger) func(*Vehicle) {
	return func(v *Vehicle) {
		v.logger = logger.With(slog.String("vehicle", "sdk"))
	}
}

// WithResponseTimeout sets how long to wait for a reply line.
func WithResponseTimeout(d time.Duration) func(*Vehicle) {
	return func(v *Vehicle) {
		v.responseTimeout = d
	}
}

// WithMaxParseErrors sets how many consecutive unparseable query replies are
// tolerated before queries fail with ErrTooManyParseErrors.
func WithMaxParseErrors(n int) func(*Vehicle) {
	return func(v *Vehicle) {
		v.maxParseErrors = n
	}
}

// Vehicle implements vehicle.Vehicle over a line protocol.
type Vehicle struct {
	port   io.ReadWriteCloser
	logger *slog.Logger

	responseTimeout time.Duration
	maxParseErrors  int

	mu          sync.Mutex
	buf         []byte
	pending     []byte
	parseErrors int
	closed      bool

	// owed counts requests whose reply was never read. Such replies may
	// still arrive and must not be taken as answers to later requests.
	owed int

	closeOnce sync.Once
	closeErr  error
}

// New creates a vehicle that talks over port. The port is owned by the
// vehicle and closed by Close.
func New(port io.ReadWriteCloser, options ...func(*Vehicle)) *Vehicle {
	v := Vehicle{
		port:            port,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		responseTimeout: defaultResponseTimeout,
		maxParseErrors:  defaultMaxParseErrors,
		buf:             make([]byte, 256),
	}

	for _, option := range options {
		option(&v)
	}

	return &v
}

func (v *Vehicle) Pair(ctx context.Context) error {
	return v.command(ctx, "pair", "command")
}

func (v *Vehicle) Takeoff(ctx context.Context) error {
	return v.command(ctx, "takeoff", "takeoff")
}

func (v *Vehicle) Land(ctx context.Context) error {
	return v.command(ctx, "land", "land")
}

func (v *Vehicle) Hover(ctx context.Context, d time.Duration) error {
	return v.command(ctx, "hover", fmt.Sprintf("hover %d", d.Milliseconds()))
}

// Move sends a relative move rounded to whole centimetres. Moves that round
// to zero are not sent.
func (v *Vehicle) Move(ctx context.Context, dir vehicle.Direction, distanceCm float64) error {
	cm := int(math.Round(math.Abs(distanceCm)))
	if cm == 0 {
		return nil
	}

	switch dir {
	case vehicle.Forward, vehicle.Backward, vehicle.Left, vehicle.Right, vehicle.Up, vehicle.Down:
	default:
		return vehicle.NewCommandError("move", fmt.Errorf("unsupported direction %s", dir))
	}

	return v.command(ctx, "move", fmt.Sprintf("%s %d", dir, cm))
}

func (v *Vehicle) Height(ctx context.Context) (float64, error) {
	return v.query(ctx, "height?")
}

func (v *Vehicle) Yaw(ctx context.Context) (float64, error) {
	return v.query(ctx, "yaw?")
}

func (v *Vehicle) FlowDX(ctx context.Context) (float64, error) {
	return v.query(ctx, "flowx?")
}

func (v *Vehicle) FlowDY(ctx context.Context) (float64, error) {
	return v.query(ctx, "flowy?")
}

// Close closes the underlying port. It is safe to call more than once.
func (v *Vehicle) Close() error {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		v.closeErr = v.port.Close()
		v.logger.Debug("connection closed", slog.Any("error", v.closeErr))
	})
	return v.closeErr
}

func (v *Vehicle) command(ctx context.Context, name, line string) error {
	reply, err := v.exchange(ctx, line)
	if err != nil {
		return vehicle.NewCommandError(name, err)
	}

	switch {
	case reply == replyOK:
		return nil
	case strings.HasPrefix(reply, replyError):
		return vehicle.NewCommandError(name, errors.New(errorReason(reply)))
	default:
		return vehicle.NewCommandError(name, fmt.Errorf("unexpected reply %q", reply))
	}
}

func (v *Vehicle) query(ctx context.Context, line string) (float64, error) {
	reply, err := v.exchange(ctx, line)
	if err != nil {
		return 0, errors.Join(vehicle.ErrNoReading, err)
	}

	if strings.HasPrefix(reply, replyError) {
		return 0, fmt.Errorf("%w: %s", vehicle.ErrNoReading, errorReason(reply))
	}

	value, err := strconv.ParseFloat(reply, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		v.mu.Lock()
		v.parseErrors++
		tooMany := v.parseErrors > v.maxParseErrors
		v.mu.Unlock()

		if tooMany {
			return 0, errors.Join(vehicle.ErrNoReading, ErrTooManyParseErrors)
		}
		return 0, fmt.Errorf("%w: unparseable reply %q to %q", vehicle.ErrNoReading, reply, line)
	}

	v.mu.Lock()
	v.parseErrors = 0
	v.mu.Unlock()

	return value, nil
}

// exchange writes one request line and reads one reply line.
func (v *Vehicle) exchange(ctx context.Context, line string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if v.owed > 0 {
		if err := v.resync(ctx); err != nil {
			return "", fmt.Errorf("resync before %q: %w", line, err)
		}
	}

	if _, err := io.WriteString(v.port, line+"\n"); err != nil {
		return "", fmt.Errorf("write %q: %w", line, err)
	}

	reply, err := v.readLine(ctx)
	if err != nil {
		v.owed++
		return "", fmt.Errorf("read reply to %q: %w", line, err)
	}

	v.logger.Debug("exchange", slog.String("request", line), slog.String("reply", reply))
	return reply, nil
}

// readLine returns the next non-empty line. A port configured with a read
// timeout returns (0, nil) when idle, so the overall wait is bounded by the
// response timeout instead.
func (v *Vehicle) readLine(ctx context.Context) (string, error) {
	deadline := time.Now().Add(v.responseTimeout)

	for {
		for {
			i := bytes.IndexByte(v.pending, '\n')
			if i < 0 {
				break
			}

			line := strings.TrimSpace(string(v.pending[:i]))
			v.pending = v.pending[i+1:]
			if line != "" {
				return line, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrResponseTimeout
		}

		n, err := v.port.Read(v.buf)
		v.pending = append(v.pending, v.buf[:n]...)
		if err != nil {
			return "", err
		}
	}
}

// resync discards buffered input and late replies to earlier requests. It
// returns once every owed reply was discarded or the port went quiet.
func (v *Vehicle) resync(ctx context.Context) error {
	idle := min(resyncIdle, v.responseTimeout)
	discarded := v.discardLines()

	quietSince := time.Now()
	for discarded < v.owed && time.Since(quietSince) < idle {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := v.port.Read(v.buf)
		if n > 0 {
			v.pending = append(v.pending, v.buf[:n]...)
			discarded += v.discardLines()
			quietSince = time.Now()
		}
		if err != nil {
			return err
		}
	}

	v.logger.Warn("link resynchronised",
		slog.Int("owed", v.owed),
		slog.Int("discarded", discarded))

	// a partial line is the start of a late reply
	v.pending = v.pending[:0]
	v.owed = 0
	return nil
}

// discardLines drops every complete line in pending and returns how many
// non-empty lines were dropped.
func (v *Vehicle) discardLines() int {
	var n int
	for {
		i := bytes.IndexByte(v.pending, '\n')
		if i < 0 {
			return n
		}
		if strings.TrimSpace(string(v.pending[:i])) != "" {
			n++
		}
		v.pending = v.pending[i+1:]
	}
}

func errorReason(reply string) string {
	reason := strings.TrimSpace(strings.TrimPrefix(reply, replyError))
	if reason == "" {
		return "unspecified error"
	}
	return reason
}
