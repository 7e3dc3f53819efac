// Package icepap provides a driver for IcePAP intelligent stepper racks.
package icepap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/snksoft/crc"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/beamctl/comm"
	"github.com/nasa-jpl/beamctl/motion"
)

// The IcePAP ASCII interface is line oriented.  Queries start with '?' and
// are answered with the query echoed back followed by the payload, e.g.
//
//	-> ?FPOS 1
//	<- ?FPOS 41234
//
// Commands prefixed with '#' are acknowledged with the command name and OK,
// e.g.
//
//	-> #MOVE 1 41234
//	<- MOVE OK
//
// Both forms answer ERROR followed by a reason when the request is refused.
// Multi-axis commands take alternating axis/value pairs (MOVE) or a plain
// axis list (STOP, POWER), which is what makes synchronized group starts a
// single packet on the wire.
//
// Parametric trajectories use the vendor's binary block extension: the PVT
// table is pushed with *PARDAT followed by a framed binary payload, then
// armed, started and aborted with #PARARM, #PARGO and #PARSTOP.

const (
	// Terminator is the line terminator on both sides of the link
	Terminator = '\n'

	// binMagic marks the start of a binary data block
	binMagic = uint16(0xA5A5)

	// status register bits, per the firmware manual
	statusPresent = 1 << 0
	statusAlive   = 1 << 1
	statusReady   = 1 << 9
	statusMoving  = 1 << 10
	statusLimPos  = 1 << 18
	statusLimNeg  = 1 << 19
	statusHome    = 1 << 20
	statusPowerOn = 1 << 23
)

// crcTable is the CCITT table used to checksum binary blocks
var crcTable = crc.NewTable(crc.CCITT)

// ErrBadResponse is generated when the rack refuses a request
type ErrBadResponse struct {
	cmd  string
	resp string
}

func (e ErrBadResponse) Error() string {
	return fmt.Sprintf("icepap: %s refused: %s", e.cmd, e.resp)
}

// parseReply strips the echoed command word and detects errors.  ok is false
// when the payload signals ERROR.
func parseReply(cmd string, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	// the echo omits the '#' prefix
	word := strings.TrimPrefix(strings.Fields(cmd)[0], "#")
	if rest, found := strings.CutPrefix(raw, word); found {
		raw = strings.TrimSpace(rest)
	}
	if strings.HasPrefix(raw, "ERROR") {
		return raw, false
	}
	return raw, true
}

// IcePAP represents one IcePAP rack.  Axis arguments are the rack's axis
// numbers as decimal strings; the motion engine maps its own axis names onto
// them through the address config key.
type IcePAP struct {
	pool    *comm.Pool
	timeout time.Duration
}

// New returns an IcePAP rack driver.  connectSerial selects the rack's
// RS232 maintenance port over the usual ethernet link.
func New(addr string, connectSerial bool) *IcePAP {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	return &IcePAP{
		pool:    comm.NewPool(1, 30*time.Second, maker),
		timeout: 10 * time.Second,
	}
}

// makeSerConf makes a new serial config for the maintenance port
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// exchange writes one line and reads one line back, recycling the connection
// when the rack resets it.  Racks drop idle connections without ceremony, so
// a reset triggers one reconnect attempt instead of failing the command.
func (ip *IcePAP) exchange(msg string) (string, error) {
	var (
		conn io.ReadWriter
		wrap io.ReadWriter
		buf  = make([]byte, 1500)
	)
	const maxTries = 3
	for tries := 0; tries < maxTries; tries++ {
		var err error
		conn, err = ip.pool.Get()
		if err != nil {
			return "", err
		}
		// serial ports have no deadlines; their read timeout comes from
		// the port config instead
		wrap, err = comm.NewTimeout(conn, ip.timeout)
		if err != nil && !errors.Is(err, comm.ErrTimeoutUnsupported) {
			ip.pool.Destroy(conn)
			return "", err
		}
		wrap = comm.NewTerminator(wrap, Terminator, Terminator)
		if _, err = io.WriteString(wrap, msg); err != nil {
			ip.pool.Destroy(conn)
			if strings.Contains(err.Error(), "reset") {
				continue
			}
			return "", err
		}
		n, err := wrap.Read(buf)
		if err != nil {
			ip.pool.Destroy(conn)
			if strings.Contains(err.Error(), "reset") {
				continue
			}
			return "", err
		}
		ip.pool.Put(conn)
		return string(buf[:n]), nil
	}
	return "", fmt.Errorf("icepap: connection reset %d times in a row", maxTries)
}

// command issues a '#' command and checks the acknowledgement
func (ip *IcePAP) command(cmd string) error {
	raw, err := ip.exchange(cmd)
	if err != nil {
		return err
	}
	if resp, ok := parseReply(cmd, raw); !ok || !strings.HasPrefix(resp, "OK") {
		return ErrBadResponse{cmd: cmd, resp: resp}
	}
	return nil
}

// Raw sends a command verbatim to the rack console and returns its reply
// without interpretation.
func (ip *IcePAP) Raw(cmd string) (string, error) {
	return ip.exchange(cmd)
}

// query issues a '?' query and returns the payload
func (ip *IcePAP) query(cmd string) (string, error) {
	raw, err := ip.exchange(cmd)
	if err != nil {
		return "", err
	}
	resp, ok := parseReply(cmd, raw)
	if !ok {
		return "", ErrBadResponse{cmd: cmd, resp: resp}
	}
	return resp, nil
}

func (ip *IcePAP) queryFloat(cmd string) (float64, error) {
	resp, err := ip.query(cmd)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(resp)
	if len(fields) == 0 {
		return 0, fmt.Errorf("icepap: empty reply to %s", cmd)
	}
	return strconv.ParseFloat(fields[0], 64)
}

// PrepareMove implements motion.Controller.  The rack has no staging
// concept; moves are validated and issued in one shot by StartOne.
func (ip *IcePAP) PrepareMove(m *motion.Motion) error {
	return nil
}

// StartOne implements motion.Controller
func (ip *IcePAP) StartOne(m *motion.Motion) error {
	return ip.command(fmt.Sprintf("#MOVE %s %d", m.Axis().Address(), round(m.TargetPos)))
}

// StartAll implements motion.BatchStarter: one MOVE packet carrying every
// axis/target pair, started by the rack on the same clock edge
func (ip *IcePAP) StartAll(motions []*motion.Motion) error {
	sb := strings.Builder{}
	sb.WriteString("#MOVE")
	for _, m := range motions {
		fmt.Fprintf(&sb, " %s %d", m.Axis().Address(), round(m.TargetPos))
	}
	return ip.command(sb.String())
}

// Stop implements motion.Controller.  STOP decelerates on the programmed
// ramp rather than slamming the power stage.
func (ip *IcePAP) Stop(axis string) error {
	return ip.command("#STOP " + axis)
}

// StopAll implements motion.BatchStopper
func (ip *IcePAP) StopAll(motions []*motion.Motion) error {
	axes := make([]string, len(motions))
	for i, m := range motions {
		axes[i] = m.Axis().Address()
	}
	return ip.command("#STOP " + strings.Join(axes, " "))
}

// State implements motion.Controller
func (ip *IcePAP) State(axis string) (motion.StateFlags, error) {
	resp, err := ip.query("?STATUS " + axis)
	if err != nil {
		return motion.Unknown, err
	}
	reg, err := strconv.ParseUint(strings.TrimPrefix(resp, "0x"), 16, 32)
	if err != nil {
		return motion.Unknown, fmt.Errorf("icepap: malformed status %q", resp)
	}
	return decodeStatus(uint32(reg)), nil
}

// decodeStatus maps the status register to engine state flags
func decodeStatus(reg uint32) motion.StateFlags {
	var fl motion.StateFlags
	switch {
	case reg&statusPresent == 0 || reg&statusAlive == 0:
		fl = motion.Unknown
	case reg&statusMoving != 0:
		fl = motion.Moving
	case reg&statusPowerOn == 0:
		fl = motion.Off
	case reg&statusReady != 0:
		fl = motion.Ready
	default:
		fl = motion.Fault
	}
	if reg&statusLimPos != 0 {
		fl |= motion.LimPos
	}
	if reg&statusLimNeg != 0 {
		fl |= motion.LimNeg
	}
	if reg&statusHome != 0 {
		fl |= motion.HomeSwitch
	}
	return fl
}

// ReadPosition implements motion.Controller, reporting the encoder position
func (ip *IcePAP) ReadPosition(axis string) (float64, error) {
	return ip.queryFloat("?FPOS " + axis)
}

// ReadVelocity implements motion.Controller, in steps per second
func (ip *IcePAP) ReadVelocity(axis string) (float64, error) {
	return ip.queryFloat("?VELOCITY " + axis)
}

// SetVelocity implements motion.VelocitySetter, in steps per second
func (ip *IcePAP) SetVelocity(axis string, vel float64) error {
	return ip.command(fmt.Sprintf("#VELOCITY %s %g", axis, vel))
}

// ReadAcceleration implements motion.Controller.  The rack expresses
// acceleration as ramp time in seconds.
func (ip *IcePAP) ReadAcceleration(axis string) (float64, error) {
	return ip.queryFloat("?ACCTIME " + axis)
}

// SetAcceleration implements motion.AccelerationSetter
func (ip *IcePAP) SetAcceleration(axis string, acctime float64) error {
	return ip.command(fmt.Sprintf("#ACCTIME %s %g", axis, acctime))
}

// Home implements motion.Homer, searching in the direction of the home
// switch wiring
func (ip *IcePAP) Home(axis string) error {
	return ip.command("#HOME " + axis)
}

// Enable implements motion.Enabler
func (ip *IcePAP) Enable(axis string) error {
	return ip.command("#POWER ON " + axis)
}

// Disable implements motion.Enabler
func (ip *IcePAP) Disable(axis string) error {
	return ip.command("#POWER OFF " + axis)
}

// LoadTrajectory implements motion.TrajectoryController.  The table crosses
// the wire as a framed binary block; the rack rejects blocks whose checksum
// does not match, so a corrupted upload fails loudly instead of executing a
// corrupted path.
func (ip *IcePAP) LoadTrajectory(axis string, table motion.PVTTable) error {
	block := EncodeTrajectory(table)
	cmd := fmt.Sprintf("*PARDAT %s", axis)
	msg := append([]byte(cmd+string(Terminator)), block...)
	raw, err := ip.exchange(string(msg))
	if err != nil {
		return err
	}
	if resp, ok := parseReply(cmd, raw); !ok || !strings.HasPrefix(resp, "OK") {
		return ErrBadResponse{cmd: cmd, resp: resp}
	}
	return nil
}

// ArmTrajectory implements motion.TrajectoryController
func (ip *IcePAP) ArmTrajectory(axes []string) error {
	return ip.command("#PARARM " + strings.Join(axes, " "))
}

// StartTrajectory implements motion.TrajectoryController
func (ip *IcePAP) StartTrajectory(axes []string) error {
	return ip.command("#PARGO " + strings.Join(axes, " "))
}

// AbortTrajectory implements motion.TrajectoryController
func (ip *IcePAP) AbortTrajectory(axes []string) error {
	return ip.command("#PARSTOP " + strings.Join(axes, " "))
}

// EncodeTrajectory frames a PVT table for the binary block protocol: a
// magic marker, the sample count, a CCITT CRC of the payload, then the
// samples as little endian float64 time/position/velocity triplets.
func EncodeTrajectory(table motion.PVTTable) []byte {
	payload := make([]byte, 0, len(table)*24)
	var scratch [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		payload = append(payload, scratch[:]...)
	}
	for _, p := range table {
		put(p.Time)
		put(p.Position)
		put(p.Velocity)
	}
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, payload)
	head := bytes.Buffer{}
	binary.Write(&head, binary.LittleEndian, binMagic)
	binary.Write(&head, binary.LittleEndian, uint32(len(table)))
	binary.Write(&head, binary.LittleEndian, crcTable.CRC16(crcUint))
	return append(head.Bytes(), payload...)
}

// round converts a float step target to the integer the wire format wants
func round(v float64) int64 {
	return int64(math.Round(v))
}
