package tspl

import (
	"fmt"
	"math"
	"strings"
)

// DotsPerMM for a 203 dpi print head
const DotsPerMM = 8.0

// LabelSize represents a label dimension
type LabelSize struct {
	Name   string
	Width  float64 // mm
	Height float64 // mm
	PixelW int     // dots, multiple of 8
	PixelH int     // dots
}

// NewLabelSize computes dot dimensions for a label of w x h millimetres
func NewLabelSize(w, h float64) LabelSize {
	pw := int(math.Round(w * DotsPerMM))
	pw = (pw + 7) / 8 * 8
	return LabelSize{
		Name:   fmt.Sprintf("%gx%gmm", w, h),
		Width:  w,
		Height: h,
		PixelW: pw,
		PixelH: int(math.Round(h * DotsPerMM)),
	}
}

// Common kitchen label sizes
var (
	Label40x30 = NewLabelSize(40, 30)
	Label50x30 = NewLabelSize(50, 30)
	Label58x40 = NewLabelSize(58, 40)
	Label60x40 = NewLabelSize(60, 40)
	Label80x50 = NewLabelSize(80, 50)
)

var AllSizes = []LabelSize{Label40x30, Label50x30, Label58x40, Label60x40, Label80x50}

// LookupSize finds a preset by name
func LookupSize(name string) (LabelSize, bool) {
	for _, s := range AllSizes {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return LabelSize{}, false
}

// Command builds TSPL2 commands
type Command struct {
	buf strings.Builder
}

func New() *Command {
	return &Command{}
}

// Size sets label dimensions
func (c *Command) Size(width, height float64) *Command {
	fmt.Fprintf(&c.buf, "SIZE %.1f mm,%.1f mm\r\n", width, height)
	return c
}

// Gap sets gap between labels
func (c *Command) Gap(gap, offset float64) *Command {
	fmt.Fprintf(&c.buf, "GAP %.1f mm,%.1f mm\r\n", gap, offset)
	return c
}

// Direction sets print direction (0 or 1)
func (c *Command) Direction(dir, mirror int) *Command {
	fmt.Fprintf(&c.buf, "DIRECTION %d,%d\r\n", dir, mirror)
	return c
}

// Density sets print darkness (0-15)
func (c *Command) Density(level int) *Command {
	if level < 0 {
		level = 0
	}
	if level > 15 {
		level = 15
	}
	fmt.Fprintf(&c.buf, "DENSITY %d\r\n", level)
	return c
}

// Speed sets print speed in inches per second
func (c *Command) Speed(ips int) *Command {
	if ips < 1 {
		ips = 1
	}
	fmt.Fprintf(&c.buf, "SPEED %d\r\n", ips)
	return c
}

// CLS clears the image buffer
func (c *Command) CLS() *Command {
	c.buf.WriteString("CLS\r\n")
	return c
}

// Bitmap adds a bitmap image
// x, y: position in dots
// widthBytes: width in bytes (pixels / 8)
// height: height in dots
// data: raw 1-bit bitmap data. TSPL treats 0 as black, so callers pass
// inverted data.
func (c *Command) Bitmap(x, y, widthBytes, height int, data []byte) *Command {
	fmt.Fprintf(&c.buf, "BITMAP %d,%d,%d,%d,0,", x, y, widthBytes, height)
	c.buf.Write(data)
	c.buf.WriteString("\r\n")
	return c
}

// QRCode places a QR symbol. cell is the module width in dots (1-10).
func (c *Command) QRCode(x, y int, ecc string, cell int, data string) *Command {
	switch ecc {
	case "L", "M", "Q", "H":
	default:
		ecc = "M"
	}
	if cell < 1 {
		cell = 1
	}
	if cell > 10 {
		cell = 10
	}
	fmt.Fprintf(&c.buf, "QRCODE %d,%d,%s,%d,A,0,\"%s\"\r\n", x, y, ecc, cell, escape(data))
	return c
}

// Barcode places a 1D barcode; codeType is a TSPL name such as "128" or "EAN13"
func (c *Command) Barcode(x, y int, codeType string, height int, readable bool, narrow, wide int, data string) *Command {
	human := 0
	if readable {
		human = 1
	}
	fmt.Fprintf(&c.buf, "BARCODE %d,%d,\"%s\",%d,%d,0,%d,%d,\"%s\"\r\n",
		x, y, codeType, height, human, narrow, wide, escape(data))
	return c
}

// Feed advances the label by n dots
func (c *Command) Feed(dots int) *Command {
	if dots < 1 {
		dots = 1
	}
	fmt.Fprintf(&c.buf, "FEED %d\r\n", dots)
	return c
}

// Cut activates the cutter immediately
func (c *Command) Cut() *Command {
	c.buf.WriteString("CUT\r\n")
	return c
}

// Print prints n copies
func (c *Command) Print(copies int) *Command {
	if copies < 1 {
		copies = 1
	}
	fmt.Fprintf(&c.buf, "PRINT %d\r\n", copies)
	return c
}

// Append copies the commands buffered in other
func (c *Command) Append(other *Command) *Command {
	c.buf.WriteString(other.buf.String())
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
	return []byte(c.buf.String())
}

// String returns the command as a string (for debugging)
func (c *Command) String() string {
	return c.buf.String()
}

// BuildPrintJob creates a complete single-bitmap print job
func BuildPrintJob(size LabelSize, density int, bitmap []byte, copies int) []byte {
	cmd := New()
	cmd.Size(size.Width, size.Height).
		Gap(2.0, 0).
		Direction(0, 0).
		Density(density).
		CLS().
		Bitmap(0, 0, size.PixelW/8, size.PixelH, bitmap).
		Print(copies)
	return cmd.Bytes()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "\\[\"]")
}
