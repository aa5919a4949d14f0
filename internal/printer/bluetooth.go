package printer

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"
)

var (
	ErrRFCOMMFailed       = errors.New("failed to establish RFCOMM connection")
	ErrPrivilegeRequired  = errors.New("root privileges required for RFCOMM")
	ErrConnectionCanceled = errors.New("connection canceled")
	ErrNotSupported       = errors.New("operation not supported on this platform")
)

// BluetoothDevice represents a paired Bluetooth device
type BluetoothDevice struct {
	Name string `json:"name"`
	MAC  string `json:"mac"` // MAC address on Linux, or COM port on Windows
}

// bluetoothLink is a serial link over an RFCOMM binding
type bluetoothLink struct {
	*serialLink
	rfcomm *RFCOMMConnection
}

// openBluetooth binds an RFCOMM device for mac and opens it as a serial port
func openBluetooth(ctx context.Context, mac string, channel, baud int, log *zap.Logger) (*bluetoothLink, error) {
	if mac == "" {
		return nil, errors.NotValidf("empty bluetooth address")
	}
	if channel <= 0 {
		channel = 1
	}
	status := func(s string) { log.Debug("rfcomm", zap.String("mac", mac), zap.String("status", s)) }

	conn, err := EstablishRFCOMM(ctx, mac, channel, status)
	if err != nil {
		return nil, errors.Annotatef(err, "rfcomm %s", mac)
	}
	link, err := openSerial(conn.DevicePath, baud)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &bluetoothLink{serialLink: link, rfcomm: conn}, nil
}

func (l *bluetoothLink) Close() error {
	err := l.serialLink.Close()
	if cerr := l.rfcomm.Close(); err == nil {
		err = cerr
	}
	return err
}

func (l *bluetoothLink) String() string { return "bluetooth:" + l.rfcomm.MAC }
