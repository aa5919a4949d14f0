package printer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ifaceClassPrinter is the USB printer interface class
const ifaceClassPrinter = 0x07

const usbReadTimeout = 2 * time.Second

// USBDevice describes an attached USB printer
type USBDevice struct {
	VID     uint16 `json:"vid"`
	PID     uint16 `json:"pid"`
	Product string `json:"product,omitempty"`
	Serial  string `json:"serial,omitempty"`
}

// usbLink talks to the bulk endpoints of a printer-class interface
type usbLink struct {
	mu    sync.Mutex
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	iface *gousb.Interface
	out   *gousb.OutEndpoint
	in    *gousb.InEndpoint
	log   *zap.Logger
}

func isPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}
	for _, cfg := range dev.Desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == ifaceClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

// openUSB opens the printer with vid:pid, or the first printer-class
// device when vid is zero
func openUSB(vid, pid uint16, log *zap.Logger) (*usbLink, error) {
	ctx := gousb.NewContext()
	l := &usbLink{ctx: ctx, log: log}

	var dev *gousb.Device
	var err error
	if vid != 0 {
		dev, err = ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
		if err == nil && dev == nil {
			err = errors.NotFoundf("usb device %04x:%04x", vid, pid)
		}
	} else {
		var devs []*gousb.Device
		devs, err = ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool { return true })
		for _, d := range devs {
			if dev == nil && isPrinter(d) {
				dev = d
				continue
			}
			d.Close()
		}
		if dev == nil && err == nil {
			err = errors.NotFoundf("usb printer")
		}
	}
	if err != nil {
		if dev != nil {
			dev.Close()
		}
		ctx.Close()
		return nil, errors.Trace(err)
	}
	l.dev = dev

	if err := l.claim(); err != nil {
		l.Close()
		return nil, err
	}
	log.Debug("usb printer opened", zap.String("device", dev.String()))
	return l, nil
}

func (l *usbLink) claim() error {
	if runtime.GOOS == "linux" {
		l.dev.SetAutoDetach(true)
	}
	cfgNum, err := l.dev.ActiveConfigNum()
	if err != nil {
		return errors.Annotate(err, "active config")
	}
	cfg, err := l.dev.Config(cfgNum)
	if err != nil {
		return errors.Annotate(err, "config")
	}
	l.cfg = cfg

	ifaceNum := -1
	for _, iface := range cfg.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == ifaceClassPrinter {
				ifaceNum = iface.Number
				break
			}
		}
		if ifaceNum >= 0 {
			break
		}
	}
	if ifaceNum < 0 {
		return errors.NotFoundf("printer interface")
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		return errors.Annotate(err, "claim interface")
	}
	l.iface = iface

	for _, ep := range iface.Setting.Endpoints {
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && l.out == nil:
			if out, err := iface.OutEndpoint(ep.Number); err == nil {
				l.out = out
			}
		case ep.Direction == gousb.EndpointDirectionIn && l.in == nil:
			if in, err := iface.InEndpoint(ep.Number); err == nil {
				l.in = in
			}
		}
	}
	if l.out == nil {
		return errors.NotFoundf("output endpoint")
	}
	return nil
}

func (l *usbLink) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return 0, ErrNotConnected
	}
	return l.out.Write(b)
}

// Read waits at most usbReadTimeout. Printers without an IN endpoint
// never answer.
func (l *usbLink) Read(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dev == nil {
		return 0, ErrNotConnected
	}
	if l.in == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), usbReadTimeout)
	defer cancel()
	n, err := l.in.ReadContext(ctx, b)
	if err != nil && ctx.Err() != nil {
		return n, nil
	}
	return n, err
}

func (l *usbLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.iface != nil {
		l.iface.Close()
		l.iface = nil
	}
	if l.cfg != nil {
		if err := l.cfg.Close(); err != nil {
			errs = append(errs, err)
		}
		l.cfg = nil
	}
	if l.dev != nil {
		if err := l.dev.Close(); err != nil {
			errs = append(errs, err)
		}
		l.dev = nil
	}
	if l.ctx != nil {
		if err := l.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		l.ctx = nil
	}
	l.out, l.in = nil, nil

	if len(errs) > 0 {
		return errors.Errorf("close usb: %v", errs)
	}
	return nil
}

func (l *usbLink) String() string {
	if l.dev == nil {
		return "usb:closed"
	}
	return fmt.Sprintf("usb:%s:%s", l.dev.Desc.Vendor, l.dev.Desc.Product)
}

// ListUSBPrinters enumerates attached printer-class devices
func ListUSBPrinters() ([]USBDevice, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool { return true })
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	var out []USBDevice
	for _, d := range devs {
		if !isPrinter(d) {
			continue
		}
		u := USBDevice{VID: uint16(d.Desc.Vendor), PID: uint16(d.Desc.Product)}
		u.Product, _ = d.Product()
		u.Serial, _ = d.SerialNumber()
		out = append(out, u)
	}
	return out, errors.Trace(err)
}
