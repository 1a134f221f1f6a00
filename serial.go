package dashlog

import (
	"bufio"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

func openSerial(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	return port, nil
}

// serialLines reads newline terminated text from a serial port. Close may
// be called from another goroutine to unblock a pending read.
type serialLines struct {
	port   serial.Port
	reader *bufio.Reader
	once   sync.Once
	err    error
}

func openSerialLines(name string, baud int) (*serialLines, error) {
	port, err := openSerial(name, baud)
	if err != nil {
		return nil, err
	}
	return &serialLines{port: port, reader: bufio.NewReader(port)}, nil
}

func (s *serialLines) ReadLine() (string, error) {
	return s.reader.ReadString('\n')
}

func (s *serialLines) Close() error {
	s.once.Do(func() {
		s.err = s.port.Close()
	})
	return s.err
}
