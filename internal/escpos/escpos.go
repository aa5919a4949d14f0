package escpos

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	esc = 0x1B
	gs  = 0x1D
	lf  = 0x0A
)

// Alignment values for ESC a
const (
	AlignLeft   = 0
	AlignCenter = 1
	AlignRight  = 2
)

// BaseFontSize is the font size that maps to 1x magnification
const BaseFontSize = 24.0

// MaxFeedLines is the largest value ESC d accepts
const MaxFeedLines = 255

// CodePage pairs a text encoding with its ESC t table number
type CodePage struct {
	Name  string
	Table byte
	cmap  *charmap.Charmap
}

var codePages = map[string]CodePage{
	"cp437":        {"cp437", 0, charmap.CodePage437},
	"cp850":        {"cp850", 2, charmap.CodePage850},
	"windows-1252": {"windows-1252", 16, charmap.Windows1252},
	"cp866":        {"cp866", 17, charmap.CodePage866},
	"cp858":        {"cp858", 19, charmap.CodePage858},
	"windows-1251": {"windows-1251", 46, charmap.Windows1251},
}

// LookupCodePage returns the named code page, cp437 when the name is unknown
func LookupCodePage(name string) (CodePage, bool) {
	cp, ok := codePages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return codePages["cp437"], false
	}
	return cp, true
}

// Command builds ESC/POS byte sequences
type Command struct {
	buf  bytes.Buffer
	cmap *charmap.Charmap
}

func New() *Command {
	return NewWithCodePage(codePages["cp437"])
}

// NewWithCodePage returns a builder that encodes text with cp.
// Runes missing from the code page are printed as '?'.
func NewWithCodePage(cp CodePage) *Command {
	return &Command{cmap: cp.cmap}
}

// Init resets the printer (ESC @)
func (c *Command) Init() *Command {
	c.buf.Write([]byte{esc, '@'})
	return c
}

// CodeTable selects the character table (ESC t)
func (c *Command) CodeTable(cp CodePage) *Command {
	c.buf.Write([]byte{esc, 't', cp.Table})
	return c
}

// Align sets justification (ESC a). Unknown values center.
func (c *Command) Align(a int) *Command {
	if a < AlignLeft || a > AlignRight {
		a = AlignCenter
	}
	c.buf.Write([]byte{esc, 'a', byte(a)})
	return c
}

// Bold toggles emphasized mode (ESC E)
func (c *Command) Bold(on bool) *Command {
	var n byte
	if on {
		n = 1
	}
	c.buf.Write([]byte{esc, 'E', n})
	return c
}

// Size sets character magnification (GS !), width and height 1..8
func (c *Command) Size(width, height int) *Command {
	width = clamp(width, 1, 8)
	height = clamp(height, 1, 8)
	c.buf.Write([]byte{gs, '!', byte((width-1)<<4 | (height - 1))})
	return c
}

// FontSize maps a point size onto a uniform magnification
func (c *Command) FontSize(size float64) *Command {
	m := Magnification(size)
	return c.Size(m, m)
}

// Magnification converts a point size to the GS ! multiplier
func Magnification(size float64) int {
	return clamp(int(math.Round(size/BaseFontSize)), 1, 8)
}

// Text appends encoded text as-is
func (c *Command) Text(s string) *Command {
	for _, r := range s {
		b, ok := c.cmap.EncodeRune(r)
		if !ok {
			b = '?'
		}
		c.buf.WriteByte(b)
	}
	return c
}

// Line appends text followed by LF
func (c *Command) Line(s string) *Command {
	c.Text(s)
	c.buf.WriteByte(lf)
	return c
}

// Feed prints and feeds n lines (ESC d)
func (c *Command) Feed(n int) *Command {
	c.buf.Write([]byte{esc, 'd', byte(clamp(n, 0, MaxFeedLines))})
	return c
}

// Cut cuts the paper (GS V). Partial leaves a hinge.
func (c *Command) Cut(partial bool) *Command {
	var m byte
	if partial {
		m = 1
	}
	c.buf.Write([]byte{gs, 'V', m})
	return c
}

// Raster adds a 1-bit raster image (GS v 0)
// widthBytes: width in bytes (pixels / 8)
// height: height in dots
// data: packed bitmap, MSB first, 1 = black
func (c *Command) Raster(widthBytes, height int, data []byte) *Command {
	c.buf.Write([]byte{gs, 'v', '0', 0,
		byte(widthBytes), byte(widthBytes >> 8),
		byte(height), byte(height >> 8),
	})
	c.buf.Write(data)
	return c
}

// QR error correction levels for GS ( k function 169
const (
	QRLevelL byte = 48
	QRLevelM byte = 49
	QRLevelQ byte = 50
	QRLevelH byte = 51
)

// QRCode stores and prints a model 2 QR symbol.
// moduleSize is the dot size of one module, 1..16.
func (c *Command) QRCode(data string, moduleSize int, level byte) *Command {
	if level < QRLevelL || level > QRLevelH {
		level = QRLevelM
	}
	c.buf.Write([]byte{gs, '(', 'k', 4, 0, '1', 'A', '2', 0})
	c.buf.Write([]byte{gs, '(', 'k', 3, 0, '1', 'C', byte(clamp(moduleSize, 1, 16))})
	c.buf.Write([]byte{gs, '(', 'k', 3, 0, '1', 'E', level})
	n := len(data) + 3
	c.buf.Write([]byte{gs, '(', 'k', byte(n), byte(n >> 8), '1', 'P', '0'})
	c.buf.WriteString(data)
	c.buf.Write([]byte{gs, '(', 'k', 3, 0, '1', 'Q', '0'})
	return c
}

// Barcode symbologies, numbered like the vendor service API
const (
	BarcodeUPCA = iota
	BarcodeUPCE
	BarcodeEAN13
	BarcodeEAN8
	BarcodeCode39
	BarcodeITF
	BarcodeCodabar
	BarcodeCode93
	BarcodeCode128
)

// HRI text positions (GS H)
const (
	HRINone = iota
	HRIAbove
	HRIBelow
	HRIBoth
)

// Barcode prints a 1D barcode (GS k, function B)
func (c *Command) Barcode(data string, symbology, height, width, textPosition int) *Command {
	if symbology < BarcodeUPCA || symbology > BarcodeCode128 {
		symbology = BarcodeCode128
	}
	if symbology == BarcodeCode128 && !strings.HasPrefix(data, "{") {
		data = "{B" + data
	}
	c.buf.Write([]byte{gs, 'h', byte(clamp(height, 1, 255))})
	c.buf.Write([]byte{gs, 'w', byte(clamp(width, 2, 6))})
	c.buf.Write([]byte{gs, 'H', byte(clamp(textPosition, HRINone, HRIBoth))})
	c.buf.Write([]byte{gs, 'k', byte(65 + symbology), byte(len(data))})
	c.buf.WriteString(data)
	return c
}

// Raw appends bytes unchanged
func (c *Command) Raw(b []byte) *Command {
	c.buf.Write(b)
	return c
}

// Len returns the number of buffered bytes
func (c *Command) Len() int {
	return c.buf.Len()
}

// Bytes returns the raw command bytes to send to printer
func (c *Command) Bytes() []byte {
	return c.buf.Bytes()
}

// Reset discards buffered bytes
func (c *Command) Reset() {
	c.buf.Reset()
}

// String returns a printable dump (for debugging)
func (c *Command) String() string {
	return fmt.Sprintf("% x", c.buf.Bytes())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
