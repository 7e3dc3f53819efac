package comm

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// ErrTimeoutUnsupported is generated when NewTimeout is given a ReadWriter
// with no deadline support
var ErrTimeoutUnsupported = errors.New("timeout not supported by this connection")

// deadliner is satisfied by net.Conn and anything else with socket deadlines
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// timeoutRW arms a fresh deadline before every Read and Write
type timeoutRW struct {
	rw      io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout wraps a ReadWriter such that each Read or Write carries a fresh
// deadline.  The underlying connection must support deadlines (net.Conn
// does); if it does not, ErrTimeoutUnsupported is returned.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return rw, ErrTimeoutUnsupported
	}
	return &timeoutRW{rw: rw, d: d, timeout: timeout}, nil
}

func (t *timeoutRW) Read(p []byte) (int, error) {
	t.d.SetReadDeadline(time.Now().Add(t.timeout))
	return t.rw.Read(p)
}

func (t *timeoutRW) Write(p []byte) (int, error) {
	t.d.SetWriteDeadline(time.Now().Add(t.timeout))
	return t.rw.Write(p)
}

// SetReadDeadline passes through to the underlying connection so wrappers
// can be stacked in either order
func (t *timeoutRW) SetReadDeadline(tt time.Time) error {
	return t.d.SetReadDeadline(tt)
}

// SetWriteDeadline passes through to the underlying connection
func (t *timeoutRW) SetWriteDeadline(tt time.Time) error {
	return t.d.SetWriteDeadline(tt)
}

// terminatorRW appends the Tx terminator on writes and strips trailing Rx
// terminators on reads
type terminatorRW struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator wraps a ReadWriter in terminator management.  Writes have
// txTerm appended if not already present; reads have any trailing rxTerm
// bytes removed.
func NewTerminator(rw io.ReadWriter, rxTerm, txTerm byte) io.ReadWriter {
	return &terminatorRW{rw: rw, rx: rxTerm, tx: txTerm}
}

func (t *terminatorRW) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	for n > 0 && p[n-1] == t.rx {
		n--
	}
	return n, err
}

func (t *terminatorRW) Write(p []byte) (int, error) {
	if !bytes.HasSuffix(p, []byte{t.tx}) {
		p = append(p, t.tx)
	}
	n, err := t.rw.Write(p)
	if n == len(p) {
		// do not report the terminator byte to the caller
		n--
	}
	return n, err
}

// SetReadDeadline passes through if the underlying connection supports it
func (t *terminatorRW) SetReadDeadline(tt time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetReadDeadline(tt)
	}
	return ErrTimeoutUnsupported
}

// SetWriteDeadline passes through if the underlying connection supports it
func (t *terminatorRW) SetWriteDeadline(tt time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetWriteDeadline(tt)
	}
	return ErrTimeoutUnsupported
}

// SerialConnMaker returns a CreationFunc opening the serial port described
// by conf.  Note that serial ports have no deadline support, so NewTimeout
// cannot stack on these connections; set conf.ReadTimeout instead.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// BackingOffTCPConnMaker returns a CreationFunc dialing addr over TCP with
// exponential backoff.  Motion controllers with embedded ethernet stacks
// tend to refuse connections briefly after a disconnect; the backoff rides
// that out instead of failing the first command after a reconnect.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn io.ReadWriteCloser
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      timeout,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
