package printer

import (
	"image"
	"io"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/escpos"
	"kitchen-print/internal/imaging"
	"kitchen-print/internal/settings"
)

// DefaultWidthDots is the printable width of a 58mm head at 203 dpi
const DefaultWidthDots = 384

// ESCPOSOptions tunes the ESC/POS backend
type ESCPOSOptions struct {
	CodePage   string
	WidthDots  int
	PartialCut bool
}

// ESCPOS drives a receipt-style printer with ESC/POS commands
type ESCPOS struct {
	mu   sync.Mutex
	link io.ReadWriteCloser
	cp   escpos.CodePage
	opts ESCPOSOptions
	log  *zap.Logger
	// magnification set by the last SetFontSize, 1 after init
	mag int
}

func NewESCPOS(link io.ReadWriteCloser, opts ESCPOSOptions, log *zap.Logger) *ESCPOS {
	cp, ok := escpos.LookupCodePage(opts.CodePage)
	if !ok && opts.CodePage != "" {
		log.Warn("unknown code page, using cp437", zap.String("code_page", opts.CodePage))
	}
	if opts.WidthDots <= 0 {
		opts.WidthDots = DefaultWidthDots
	}
	opts.WidthDots = opts.WidthDots / 8 * 8
	return &ESCPOS{link: link, cp: cp, opts: opts, log: log, mag: 1}
}

func (p *ESCPOS) send(op string, build func(c *escpos.Command)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return ErrNotConnected
	}
	c := escpos.NewWithCodePage(p.cp)
	build(c)
	p.log.Debug("send", zap.String("op", op), zap.Int("bytes", c.Len()))
	_, err := p.link.Write(c.Bytes())
	return linkErr(err, op)
}

func (p *ESCPOS) PrinterInit() error {
	return p.send("init", func(c *escpos.Command) {
		p.mag = 1
		c.Init().CodeTable(p.cp)
	})
}

func (p *ESCPOS) PrintText(text string) error {
	return p.send("print text", func(c *escpos.Command) { c.Text(text) })
}

// PrintTextWithSize prints an enlarged line: at least one magnification
// step above the current font size, then returns to the current size.
func (p *ESCPOS) PrintTextWithSize(text string, size float64) error {
	return p.send("print sized text", func(c *escpos.Command) {
		m := min(max(escpos.Magnification(size), p.mag+1), 8)
		c.Size(m, m).Text(text).Size(p.mag, p.mag)
	})
}

// PrintBitmap scales img down to the head width when wider and prints
// it as a raster image
func (p *ESCPOS) PrintBitmap(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return errors.NotValidf("empty bitmap")
	}
	if img.Bounds().Dx() > p.opts.WidthDots {
		img = imaging.FitInto(img, p.opts.WidthDots, img.Bounds().Dy())
	}
	bm := imaging.Pack(img, imaging.DefaultThreshold)
	return p.send("print bitmap", func(c *escpos.Command) {
		c.Raster(bm.WidthBytes(), bm.Height, bm.Data)
	})
}

// PrintQRCode takes level 0-3 for L, M, Q, H
func (p *ESCPOS) PrintQRCode(data string, moduleSize, level int) error {
	if data == "" {
		return errors.NotValidf("empty QR data")
	}
	return p.send("print qr", func(c *escpos.Command) {
		c.QRCode(data, moduleSize, escpos.QRLevelL+byte(clampInt(level, 0, 3)))
	})
}

func (p *ESCPOS) PrintBarCode(data string, symbology, height, width, textPosition int) error {
	if data == "" {
		return errors.NotValidf("empty barcode data")
	}
	return p.send("print barcode", func(c *escpos.Command) {
		c.Barcode(data, symbology, height, width, textPosition)
	})
}

func (p *ESCPOS) SetAlignment(a settings.Alignment) error {
	return p.send("align", func(c *escpos.Command) { c.Align(int(a.Normalize())) })
}

func (p *ESCPOS) SetFontSize(size float64) error {
	return p.send("font size", func(c *escpos.Command) {
		p.mag = escpos.Magnification(size)
		c.Size(p.mag, p.mag)
	})
}

func (p *ESCPOS) LineWrap(lines int) error {
	return p.send("line wrap", func(c *escpos.Command) { c.Feed(lines) })
}

func (p *ESCPOS) CutPaper() error {
	return p.send("cut", func(c *escpos.Command) { c.Cut(p.opts.PartialCut) })
}

// Real-time status (DLE EOT 1) bits
const (
	statusFixedMask = 0x93
	statusFixed     = 0x12
	statusOffline   = 0x08
)

// Ping asks for the printer status. A silent printer is taken as alive.
func (p *ESCPOS) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return ErrNotConnected
	}
	if _, err := p.link.Write([]byte{0x10, 0x04, 0x01}); err != nil {
		return linkErr(err, "status request")
	}
	buf := make([]byte, 1)
	n, err := p.link.Read(buf)
	if err != nil {
		return linkErr(err, "status read")
	}
	if n == 0 {
		return nil
	}
	if buf[0]&statusFixedMask != statusFixed {
		return errors.Annotatef(ErrRunFailed, "unexpected status byte %#02x", buf[0])
	}
	if buf[0]&statusOffline != 0 {
		return &RemoteError{Code: int(buf[0]), Msg: "printer offline"}
	}
	return nil
}

func (p *ESCPOS) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return nil
	}
	err := p.link.Close()
	p.link = nil
	return errors.Trace(err)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
