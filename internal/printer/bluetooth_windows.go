//go:build windows

package printer

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/sys/windows/registry"
)

const serialCommKey = `HARDWARE\DEVICEMAP\SERIALCOMM`

// RFCOMMConnection on Windows is just the COM port Windows created for
// the paired SPP device
type RFCOMMConnection struct {
	DevicePath string
	MAC        string
}

// ListPairedBluetoothDevices returns Bluetooth COM ports, or every COM
// port when none look like Bluetooth
func ListPairedBluetoothDevices() ([]BluetoothDevice, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, serialCommKey, registry.READ)
	if err != nil {
		return nil, errors.Annotate(err, "open SERIALCOMM")
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var bt, all []BluetoothDevice
	for _, name := range names {
		val, _, err := key.GetStringValue(name)
		if err != nil {
			continue
		}
		d := BluetoothDevice{Name: name, MAC: val}
		all = append(all, d)
		lower := strings.ToLower(name)
		if strings.Contains(lower, "bth") || strings.Contains(lower, "bluetooth") {
			bt = append(bt, d)
		}
	}
	if len(bt) == 0 {
		return all, nil
	}
	return bt, nil
}

// EstablishRFCOMM maps a COM port name to its device path.
// On Windows mac is the COM port, e.g. "COM3".
func EstablishRFCOMM(ctx context.Context, mac string, channel int, status func(string)) (*RFCOMMConnection, error) {
	if !strings.HasPrefix(strings.ToUpper(mac), "COM") {
		return nil, errors.NotValidf("COM port %q", mac)
	}
	path := mac
	// COM10 and above need the \\.\ prefix
	if len(mac) > 4 {
		path = `\\.\` + mac
	}
	status("using port " + mac)
	return &RFCOMMConnection{DevicePath: path, MAC: mac}, nil
}

func (c *RFCOMMConnection) Close() error { return nil }

// ExistingRFCOMMDevices has nothing to add on Windows; COM ports are
// already reported by the serial enumerator
func ExistingRFCOMMDevices() ([]string, error) { return nil, nil }
