// Package printer defines the print service contract and its ESC/POS
// and TSPL implementations over serial, Bluetooth, USB and TCP links.
package printer

import (
	stderrors "errors"
	"fmt"
	"image"
	"io"
	"net"
	"os"

	"github.com/juju/errors"

	"kitchen-print/internal/settings"
)

// Service is the command set of a bound printer. Every call reports its
// outcome as an error: *RemoteError when the device rejects a command,
// ErrRunFailed when it reports a failed run, and an error caused by
// ErrRemoteCallFailed when the link itself fails.
type Service interface {
	PrinterInit() error
	PrintText(text string) error
	PrintTextWithSize(text string, size float64) error
	PrintBitmap(img image.Image) error
	PrintQRCode(data string, moduleSize, level int) error
	PrintBarCode(data string, symbology, height, width, textPosition int) error
	SetAlignment(a settings.Alignment) error
	SetFontSize(size float64) error
	LineWrap(lines int) error
	CutPaper() error
	// Ping checks that the device answers
	Ping() error
	Close() error
}

var (
	ErrServiceUnbound       = errors.New("print service not bound")
	ErrInitializationFailed = errors.New("printer initialization failed")
	ErrRemoteCallFailed     = errors.New("remote call failed")
	ErrRunFailed            = errors.New("printer reported failed run")
	ErrNotConnected         = errors.New("printer not connected")
)

// RemoteError is a failure reported by the device
type RemoteError struct {
	Code int
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("printer error %d: %s", e.Code, e.Msg)
}

// IsTransportError reports whether err means the link to the device is
// gone, so the handle should be dropped
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	switch cause := errors.Cause(err); cause {
	case ErrRemoteCallFailed, ErrNotConnected, io.EOF, io.ErrClosedPipe:
		return true
	default:
		var ne net.Error
		if stderrors.As(cause, &ne) && !ne.Timeout() {
			return true
		}
		return stderrors.Is(cause, os.ErrClosed)
	}
}

// linkErr marks a transport failure
func linkErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, ErrRemoteCallFailed, "%s: %v", op, err)
}
