package printer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/tspl"
)

// Config selects a transport and command dialect
type Config struct {
	Transport string `mapstructure:"transport" json:"transport"` // serial, bluetooth, usb, tcp
	Dialect   string `mapstructure:"dialect" json:"dialect"`     // escpos, tspl

	Port     string `mapstructure:"port" json:"port,omitempty"`
	BaudRate int    `mapstructure:"baud_rate" json:"baud_rate,omitempty"`
	MAC      string `mapstructure:"mac" json:"mac,omitempty"`
	Channel  int    `mapstructure:"channel" json:"channel,omitempty"`
	Address  string `mapstructure:"address" json:"address,omitempty"`
	VID      uint16 `mapstructure:"vid" json:"vid,omitempty"`
	PID      uint16 `mapstructure:"pid" json:"pid,omitempty"`

	CodePage   string `mapstructure:"code_page" json:"code_page,omitempty"`
	WidthDots  int    `mapstructure:"width_dots" json:"width_dots,omitempty"`
	PartialCut bool   `mapstructure:"partial_cut" json:"partial_cut,omitempty"`

	LabelSize string  `mapstructure:"label_size" json:"label_size,omitempty"` // e.g. 40x30mm
	Density   int     `mapstructure:"density" json:"density,omitempty"`       // 0-15
	Speed     int     `mapstructure:"speed" json:"speed,omitempty"`
	Gap       float64 `mapstructure:"gap" json:"gap,omitempty"`
	FontName  string  `mapstructure:"font_name" json:"font_name,omitempty"`
}

// Open connects the configured transport and wraps it in the dialect backend
func Open(ctx context.Context, cfg Config, log *zap.Logger) (Service, error) {
	log = log.Named("printer")
	link, err := openLink(ctx, cfg, log)
	if err != nil {
		return nil, errors.Annotatef(err, "open %s transport", cfg.Transport)
	}
	svc, err := NewService(link, cfg, log)
	if err != nil {
		link.Close()
		return nil, err
	}
	log.Info("printer opened", zap.String("link", describe(link)), zap.String("dialect", cfg.Dialect))
	return svc, nil
}

func describe(link io.ReadWriteCloser) string {
	if s, ok := link.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", link)
}

func openLink(ctx context.Context, cfg Config, log *zap.Logger) (io.ReadWriteCloser, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", "serial":
		port := cfg.Port
		if port == "" {
			port = DefaultSerialPort()
		}
		return openSerial(port, cfg.BaudRate)
	case "bluetooth", "bt":
		return openBluetooth(ctx, cfg.MAC, cfg.Channel, cfg.BaudRate, log)
	case "usb":
		return openUSB(cfg.VID, cfg.PID, log)
	case "tcp", "network":
		return openTCP(ctx, cfg.Address)
	default:
		return nil, errors.NotSupportedf("transport %q", cfg.Transport)
	}
}

// NewService wraps an open link in the configured dialect
func NewService(link io.ReadWriteCloser, cfg Config, log *zap.Logger) (Service, error) {
	switch strings.ToLower(cfg.Dialect) {
	case "", "escpos", "esc/pos":
		return NewESCPOS(link, ESCPOSOptions{
			CodePage:   cfg.CodePage,
			WidthDots:  cfg.WidthDots,
			PartialCut: cfg.PartialCut,
		}, log), nil
	case "tspl":
		size := tspl.Label40x30
		if cfg.LabelSize != "" {
			var ok bool
			if size, ok = tspl.LookupSize(cfg.LabelSize); !ok {
				return nil, errors.NotValidf("label size %q", cfg.LabelSize)
			}
		}
		return NewTSPL(link, TSPLOptions{
			Size:     size,
			Density:  cfg.Density,
			Speed:    cfg.Speed,
			Gap:      cfg.Gap,
			FontName: cfg.FontName,
		}, log), nil
	default:
		return nil, errors.NotSupportedf("dialect %q", cfg.Dialect)
	}
}

// Devices lists printers that could be bound
type Devices struct {
	Serial    []string          `json:"serial"`
	Bluetooth []BluetoothDevice `json:"bluetooth"`
	USB       []USBDevice       `json:"usb"`
}

// Discover enumerates serial ports, paired Bluetooth devices and USB
// printers. Enumeration failures are logged and leave that list empty.
func Discover(log *zap.Logger) Devices {
	var d Devices
	var err error
	if d.Serial, err = ListSerialPorts(); err != nil {
		log.Debug("serial enumeration failed", zap.Error(err))
	}
	if d.Bluetooth, err = ListPairedBluetoothDevices(); err != nil {
		log.Debug("bluetooth enumeration failed", zap.Error(err))
	}
	if d.USB, err = ListUSBPrinters(); err != nil {
		log.Debug("usb enumeration failed", zap.Error(err))
	}
	return d
}
