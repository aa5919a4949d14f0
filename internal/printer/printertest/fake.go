// Package printertest provides an in-memory printer.Service.
package printertest

import (
	"fmt"
	"image"
	"sync"

	"kitchen-print/internal/printer"
	"kitchen-print/internal/settings"
)

// Fake records every call as a short string such as "LineWrap(3)".
// Errors can be injected per method name.
type Fake struct {
	mu        sync.Mutex
	history   []string
	errs      map[string]error
	initFails int
	pingErr   error
	closed    int
}

var _ printer.Service = (*Fake)(nil)

func New() *Fake {
	return &Fake{errs: make(map[string]error)}
}

// Fail makes every call to method return err; nil clears it
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// FailInit makes the next n PrinterInit calls return ErrRunFailed
func (f *Fake) FailInit(n int) {
	f.mu.Lock()
	f.initFails = n
	f.mu.Unlock()
}

// SetPingErr sets the error Ping returns
func (f *Fake) SetPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

// History returns the calls made so far
func (f *Fake) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history...)
}

// Count returns how many times method was called
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.history {
		if c == method || len(c) > len(method) && c[:len(method)+1] == method+"(" {
			n++
		}
	}
	return n
}

func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Reset() {
	f.mu.Lock()
	f.history = nil
	f.mu.Unlock()
}

func (f *Fake) record(method, call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, call)
	return f.errs[method]
}

func (f *Fake) PrinterInit() error {
	if err := f.record("PrinterInit", "PrinterInit"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initFails > 0 {
		f.initFails--
		return printer.ErrRunFailed
	}
	return nil
}

func (f *Fake) PrintText(text string) error {
	return f.record("PrintText", fmt.Sprintf("PrintText(%q)", text))
}

func (f *Fake) PrintTextWithSize(text string, size float64) error {
	return f.record("PrintTextWithSize", fmt.Sprintf("PrintTextWithSize(%q,%g)", text, size))
}

func (f *Fake) PrintBitmap(img image.Image) error {
	b := img.Bounds()
	return f.record("PrintBitmap", fmt.Sprintf("PrintBitmap(%dx%d)", b.Dx(), b.Dy()))
}

func (f *Fake) PrintQRCode(data string, moduleSize, level int) error {
	return f.record("PrintQRCode", fmt.Sprintf("PrintQRCode(%q,%d,%d)", data, moduleSize, level))
}

func (f *Fake) PrintBarCode(data string, symbology, height, width, textPosition int) error {
	return f.record("PrintBarCode", fmt.Sprintf("PrintBarCode(%q,%d,%d,%d,%d)", data, symbology, height, width, textPosition))
}

func (f *Fake) SetAlignment(a settings.Alignment) error {
	return f.record("SetAlignment", fmt.Sprintf("SetAlignment(%s)", a))
}

func (f *Fake) SetFontSize(size float64) error {
	return f.record("SetFontSize", fmt.Sprintf("SetFontSize(%g)", size))
}

func (f *Fake) LineWrap(lines int) error {
	return f.record("LineWrap", fmt.Sprintf("LineWrap(%d)", lines))
}

func (f *Fake) CutPaper() error {
	return f.record("CutPaper", "CutPaper")
}

func (f *Fake) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}
