package printer

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	serialReadTimeout  = 3 * time.Second
	defaultPortPattern = "/dev/ttyUSB0"
)

// serialLink is a serial port used as a printer transport
type serialLink struct {
	port     serial.Port
	portName string
}

// openSerial opens portName at baud 8N1
func openSerial(portName string, baud int) (*serialLink, error) {
	if portName == "" {
		return nil, errors.NotValidf("empty serial port")
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Annotatef(err, "open port %s", portName)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, errors.Annotatef(err, "set read timeout %s", portName)
	}

	return &serialLink{port: port, portName: portName}, nil
}

func (l *serialLink) Read(b []byte) (int, error) {
	if l.port == nil {
		return 0, ErrNotConnected
	}
	// go.bug.st/serial returns 0, nil on timeout
	return l.port.Read(b)
}

func (l *serialLink) Write(b []byte) (int, error) {
	if l.port == nil {
		return 0, ErrNotConnected
	}
	return l.port.Write(b)
}

func (l *serialLink) Close() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return errors.Trace(err)
}

func (l *serialLink) String() string { return "serial:" + l.portName }

// ListSerialPorts returns serial ports known to the OS plus any bound
// rfcomm devices, sorted and without duplicates
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Annotate(err, "list serial ports")
	}
	rfcomm, _ := ExistingRFCOMMDevices()
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(ports, rfcomm...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// DefaultSerialPort picks the first present USB serial adapter
func DefaultSerialPort() string {
	for _, p := range []string{defaultPortPattern, "/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyACM1"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if ports, err := ListSerialPorts(); err == nil {
		for _, p := range ports {
			if !strings.Contains(p, "rfcomm") {
				return p
			}
		}
	}
	return ""
}
