//go:build !linux && !windows

package printer

import "context"

type RFCOMMConnection struct {
	DevicePath string
	MAC        string
}

func ListPairedBluetoothDevices() ([]BluetoothDevice, error) { return nil, ErrNotSupported }

func EstablishRFCOMM(ctx context.Context, mac string, channel int, status func(string)) (*RFCOMMConnection, error) {
	return nil, ErrNotSupported
}

func (c *RFCOMMConnection) Close() error { return nil }

func ExistingRFCOMMDevices() ([]string, error) { return nil, nil }
