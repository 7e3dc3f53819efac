/*Package comm provides connection plumbing for communication with lab hardware.

Drivers hold a Pool of connections built from one of the conn maker
functions, and wrap each checked-out connection with NewTimeout and
NewTerminator to get per-exchange deadlines and line framing.  A minimal
example for a motion controller that responds to "?FPOS 1" with the
position of axis 1:

	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, 30*time.Second, maker)

	func (mc *MyController) ReadPosition(axis string) (float64, error) {
		conn, err := pool.Get()
		if err != nil {
			return 0, err
		}
		wrap, err := comm.NewTimeout(conn, 10*time.Second)
		if err != nil {
			pool.Destroy(conn)
			return 0, err
		}
		wrap = comm.NewTerminator(wrap, '\n', '\n')
		_, err = io.WriteString(wrap, "?FPOS "+axis)
		if err != nil {
			pool.ReturnWithError(conn, err)
			return 0, err
		}
		buf := make([]byte, 80)
		n, err := wrap.Read(buf)
		pool.ReturnWithError(conn, err)
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(buf[:n]), 64)
	}

Serial devices use SerialConnMaker with a tarm/serial config in place of
the TCP maker; everything downstream of the Pool is transport agnostic.
*/
package comm

import (
	"net"
	"time"
)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
