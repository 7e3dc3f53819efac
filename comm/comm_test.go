package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/beamctl/comm"
)

// tcpEchoServer starts an echo loopback on an ephemeral port and returns
// its address
func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func echoPool(t *testing.T, size int, timeout time.Duration) *comm.Pool {
	t.Helper()
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	return comm.NewPool(size, timeout, maker)
}

func TestPoolFillsToCapacity(t *testing.T) {
	pool := echoPool(t, 3, time.Second)
	for i := 0; i < 3; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatalf("could not get connection %d: %v", i+1, err)
		}
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 active, got %d", pool.Active())
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	pool := echoPool(t, 3, time.Second)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatalf("could not get connection: %v", err)
		}
		pool.Put(conn)
	}
	if pool.Size() != 1 {
		t.Errorf("serial get/put should reuse one connection, pool size %d", pool.Size())
	}
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	pool := echoPool(t, 2, time.Second)
	for i := 0; i < 2; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatalf("could not get connection: %v", err)
		}
	}
	extra := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		extra <- rw
	}()
	select {
	case <-extra:
		t.Fatal("pool gave out more connections than its capacity")
	case <-time.After(250 * time.Millisecond):
	}
}

func TestReturnWithError(t *testing.T) {
	pool := echoPool(t, 1, time.Second)
	conn, err := pool.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	pool.ReturnWithError(conn, errors.New("remote hung up"))
	if pool.Size() != 0 {
		t.Errorf("errored connection should be destroyed, pool size %d", pool.Size())
	}
	conn, err = pool.Get()
	if err != nil {
		t.Fatalf("Get after destroy: %v", err)
	}
	pool.ReturnWithError(conn, nil)
	if pool.Size() != 1 {
		t.Errorf("clean connection should return to the pool, size %d", pool.Size())
	}
}

func TestTerminatorRoundTrip(t *testing.T) {
	addr := tcpEchoServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	wrap := comm.NewTerminator(conn, '\n', '\n')
	if _, err := io.WriteString(wrap, "?FPOS 1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := wrap.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "?FPOS 1" {
		t.Errorf("echo through terminator wrapper: %q", buf[:n])
	}
}

func TestTimeoutRequiresDeadlineSupport(t *testing.T) {
	if _, err := comm.NewTimeout(&bytes.Buffer{}, time.Second); !errors.Is(err, comm.ErrTimeoutUnsupported) {
		t.Errorf("expected ErrTimeoutUnsupported, got %v", err)
	}
}

func TestTimeoutExpires(t *testing.T) {
	addr := tcpEchoServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	wrap, err := comm.NewTimeout(conn, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewTimeout: %v", err)
	}
	// nothing was written, so nothing comes back; the read must not hang
	buf := make([]byte, 8)
	start := time.Now()
	_, err = wrap.Read(buf)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("read did not respect the deadline")
	}
}
