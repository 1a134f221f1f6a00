package obd

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var (
	// ErrNoData is the dongle's NO DATA reply: the ECU did not answer this
	// parameter. The poller skips the parameter for this slot.
	ErrNoData = errors.New("no data")
	// ErrMalformed is a reply that does not parse as the expected parameter.
	ErrMalformed = errors.New("malformed reply")
	// ErrTimeout means the prompt never arrived; the link is considered down.
	ErrTimeout = errors.New("timed out waiting for prompt")
	// ErrNotConnected is returned when the dongle cannot reach the ECU.
	ErrNotConnected = errors.New("unable to connect to ecu")
)

// Protocol selects the bus the dongle speaks to the vehicle.
type Protocol string

const (
	ProtocolAuto       Protocol = "auto"
	ProtocolISO9141    Protocol = "iso9141"
	ProtocolKWP2000    Protocol = "kwp2000"
	ProtocolKWP2000Slw Protocol = "kwp2000-slow"
)

func (p Protocol) command() (string, error) {
	switch p {
	case ProtocolAuto, "":
		return "ATSP0", nil
	case ProtocolISO9141:
		return "ATSP3", nil
	case ProtocolKWP2000Slw:
		return "ATSP4", nil
	case ProtocolKWP2000:
		return "ATSP5", nil
	}
	return "", errors.Errorf("unsupported obd protocol %q", p)
}

const (
	prompt      = '>'
	maxReplyLen = 4096
)

// Serial settings of a dongle configured for 115200 baud.
var DefaultMode = serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// Client is a query/response session with an ELM327 dongle.
type Client struct {
	rw      io.ReadWriter
	closer  io.Closer
	timeout time.Duration

	// capability bitmap, indexed by mode 01 PID; nil means unknown
	supported []bool
}

// Open opens the serial device and wraps it in a Client. Init must be called
// before queries.
func Open(device string, baud int, timeout time.Duration) (*Client, error) {
	mode := DefaultMode
	if baud > 0 {
		mode.BaudRate = baud
	}
	port, err := serial.Open(device, &mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", device)
	}
	// the dongle is read in short slices so the overall deadline is ours
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	c := NewClient(port, timeout)
	c.closer = port
	return c, nil
}

// NewClient wraps an already open link.
func NewClient(rw io.ReadWriter, timeout time.Duration) *Client {
	return &Client{rw: rw, timeout: timeout}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Init resets the dongle and configures it for compact replies: echo, spaces,
// headers and DLC off.
func (c *Client) Init(protocol Protocol) error {
	sp, err := protocol.command()
	if err != nil {
		return err
	}

	// wake up whatever half-typed command the dongle is holding
	if _, err := c.rw.Write([]byte("\r")); err != nil {
		return errors.Wrap(err, "write")
	}
	c.readReply()

	id, err := c.command("ATZ")
	if err != nil {
		return errors.Wrap(err, "reset")
	}
	log.WithField("id", strings.Join(id, " ")).Info("obd dongle reset")

	for _, cmd := range []string{"ATE0", "ATL1", sp, "ATS0", "ATAL", "ATH0", "ATD0"} {
		lines, err := c.command(cmd)
		if err != nil {
			return errors.Wrap(err, cmd)
		}
		if !hasOK(lines) {
			return errors.Errorf("%s: unexpected reply %q", cmd, strings.Join(lines, " "))
		}
	}
	return nil
}

func hasOK(lines []string) bool {
	for _, l := range lines {
		if l == "OK" {
			return true
		}
	}
	return false
}

// command sends cmd and returns the reply lines with whitespace and the
// dongle's SEARCHING... progress line removed.
func (c *Client) command(cmd string) ([]string, error) {
	log.WithField("cmd", cmd).Debug("obd write")
	if _, err := c.rw.Write([]byte(cmd + "\r")); err != nil {
		return nil, errors.Wrap(err, "write")
	}
	raw, err := c.readReply()
	if err != nil {
		return nil, err
	}
	return splitReply(raw), nil
}

func (c *Client) readReply() ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	var reply []byte
	buf := make([]byte, 256)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			if i := bytes.IndexByte(buf[:n], prompt); i >= 0 {
				return append(reply, buf[:i]...), nil
			}
			reply = append(reply, buf[:n]...)
			if len(reply) > maxReplyLen {
				return nil, errors.Wrap(ErrMalformed, "reply too long")
			}
		}
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "read")
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		if err == io.EOF && n == 0 {
			// a closed test pipe; a serial port returns 0, nil on timeout
			time.Sleep(time.Millisecond)
		}
	}
}

func splitReply(raw []byte) []string {
	var out []string
	for _, line := range strings.FieldsFunc(string(raw), func(r rune) bool {
		return r == '\r' || r == '\n'
	}) {
		line = strings.Map(func(r rune) rune {
			if r <= ' ' || r >= 127 {
				return -1
			}
			return r
		}, line)
		line = strings.TrimPrefix(line, "SEARCHING...")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func classify(lines []string) error {
	for _, l := range lines {
		switch {
		case l == "NODATA":
			return ErrNoData
		case strings.HasPrefix(l, "UNABLETOCONNECT"), strings.HasPrefix(l, "BUSINIT"):
			return ErrNotConnected
		case l == "?", l == "STOPPED", strings.HasSuffix(l, "ERROR"):
			return errors.Wrapf(ErrMalformed, "dongle said %q", l)
		}
	}
	return nil
}

// Query sends one parameter request and decodes the reply.
func (c *Client) Query(p Param) (float64, error) {
	lines, err := c.command(p.Command())
	if err != nil {
		return 0, err
	}
	if err := classify(lines); err != nil {
		return 0, errors.Wrap(err, p.Name)
	}
	if p.AT != "" {
		return parseVoltage(p, lines)
	}
	data, err := parsePID(p.PID, p.Bytes, lines)
	if err != nil {
		return 0, errors.Wrap(err, p.Name)
	}
	return p.Decode(data), nil
}

func parseVoltage(p Param, lines []string) (float64, error) {
	if len(lines) == 0 {
		return 0, errors.Wrap(ErrMalformed, p.Name)
	}
	s := strings.TrimSuffix(strings.ToUpper(lines[len(lines)-1]), "V")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "%s: %q", p.Name, lines[len(lines)-1])
	}
	return v, nil
}

// parsePID finds the first "41xx" line for pid and returns its data bytes.
// More than one ECU may answer; the first complete answer wins.
func parsePID(pid uint8, n int, lines []string) ([]byte, error) {
	header := []byte{0x41, pid}
	for _, l := range lines {
		b, err := hexBytes(l)
		if err != nil || len(b) < 2 || !bytes.Equal(b[:2], header) {
			continue
		}
		if len(b)-2 < n {
			return nil, errors.Wrapf(ErrMalformed, "pid %02X: %d data bytes, want %d", pid, len(b)-2, n)
		}
		return b[2 : 2+n], nil
	}
	return nil, errors.Wrapf(ErrMalformed, "pid %02X: no answer in %q", pid, strings.Join(lines, " "))
}

func hexBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrMalformed
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, ErrMalformed
		}
		out[i] = byte(v)
	}
	return out, nil
}

// ReadCapabilities asks for the supported-PID bitmaps 0100, 0120, ... and
// follows the chain while the last bit of each block is set. If the first
// block cannot be read every parameter is assumed supported.
func (c *Client) ReadCapabilities() error {
	supported := make([]bool, 0x100)
	for base := 0; base < 0xe0; base += 0x20 {
		lines, err := c.command(Param{PID: uint8(base)}.Command())
		if err == nil {
			err = classify(lines)
		}
		var data []byte
		if err == nil {
			data, err = parsePID(uint8(base), 4, lines)
		}
		if err != nil {
			if base == 0 {
				if cause := errors.Cause(err); cause == ErrTimeout || cause == ErrNotConnected {
					return err
				}
				log.WithField("err", err).Warn("capability query failed, assuming all pids")
				c.supported = nil
				return nil
			}
			break
		}
		bits := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		for i := 0; i < 32; i++ {
			supported[base+i+1] = bits&(1<<(31-uint(i))) != 0
		}
		if !supported[base+0x20] {
			break
		}
	}
	// RPM is polled regardless so a disconnected ECU shows up as errors
	supported[ParamRPM.PID] = true
	c.supported = supported
	return nil
}

func (c *Client) Supported(p Param) bool {
	if p.AT != "" || c.supported == nil {
		return true
	}
	return c.supported[p.PID]
}

// TroubleCodes reads the stored codes with a mode 03 request. Each reply
// line carries up to three codes; 0000 is padding.
func (c *Client) TroubleCodes() ([]Code, error) {
	lines, err := c.command("03")
	if err != nil {
		return nil, err
	}
	if err := classify(lines); err != nil {
		if err == ErrNoData {
			return nil, nil
		}
		return nil, errors.Wrap(err, "trouble codes")
	}
	return parseCodes(lines)
}

func parseCodes(lines []string) ([]Code, error) {
	var codes []Code
	found := false
	for _, l := range lines {
		if !strings.HasPrefix(l, "43") {
			continue
		}
		found = true
		b, err := hexBytes(l[2:])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "trouble codes %q", l)
		}
		for i := 0; i+1 < len(b); i += 2 {
			code := Code(uint16(b[i])<<8 | uint16(b[i+1]))
			if code != 0 {
				codes = append(codes, code)
			}
		}
	}
	if !found {
		return nil, errors.Wrapf(ErrMalformed, "trouble codes %q", strings.Join(lines, " "))
	}
	return codes, nil
}
