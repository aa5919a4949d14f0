package printer

import (
	"image"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/juju/errors"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"kitchen-print/internal/imaging"
	"kitchen-print/internal/settings"
	"kitchen-print/internal/tspl"
)

// DotsPerPoint converts font points to dots at 203 dpi
const DotsPerPoint = 203.0 / 72.0

// TSPLOptions tunes the TSPL backend
type TSPLOptions struct {
	Size      tspl.LabelSize
	Density   int // 0-15
	Speed     int
	Gap       float64 // mm
	FontName  string
	TextScale float64 // dots per font point
}

// TSPL drives a label printer. Output is composed onto a label-sized
// page: text and images are rasterized into one BITMAP, QR codes and
// barcodes become native commands. The page is printed when it fills
// up or on CutPaper.
type TSPL struct {
	mu   sync.Mutex
	link io.ReadWriteCloser
	opts TSPLOptions
	log  *zap.Logger

	align    settings.Alignment
	fontSize float64
	page     *imaging.Canvas
	native   *tspl.Command
	y        int
	dirty    bool
}

func NewTSPL(link io.ReadWriteCloser, opts TSPLOptions, log *zap.Logger) *TSPL {
	if opts.Size.PixelW == 0 {
		opts.Size = tspl.Label40x30
	}
	if opts.Gap <= 0 {
		opts.Gap = 2
	}
	if opts.TextScale <= 0 {
		opts.TextScale = DotsPerPoint
	}
	if opts.Speed <= 0 {
		opts.Speed = settings.Defaults().Speed
	}
	p := &TSPL{link: link, opts: opts, log: log}
	p.reset()
	return p
}

func (p *TSPL) reset() {
	p.align = settings.AlignLeft
	p.fontSize = settings.Defaults().FontSize
	p.clearPage()
}

func (p *TSPL) clearPage() {
	p.page = imaging.NewCanvas(p.opts.Size.PixelW, p.opts.Size.PixelH)
	p.native = tspl.New()
	p.y = 0
	p.dirty = false
}

func (p *TSPL) write(op string, b []byte) error {
	if p.link == nil {
		return ErrNotConnected
	}
	p.log.Debug("send", zap.String("op", op), zap.Int("bytes", len(b)))
	_, err := p.link.Write(b)
	return linkErr(err, op)
}

// PrinterInit cancels a paused state and drops anything not yet printed
func (p *TSPL) PrinterInit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return p.write("init", []byte("\x1b!o"))
}

func (p *TSPL) PrintText(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text(text, p.fontSize)
}

func (p *TSPL) PrintTextWithSize(text string, size float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text(text, size)
}

func (p *TSPL) text(text string, size float64) error {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return p.advance(p.lineHeight(size))
	}
	img, err := imaging.RenderTextWithOptions(text, p.opts.Size.PixelW, 0, imaging.TextOptions{
		Font:          imaging.FontSpec{Name: p.opts.FontName, Size: size * p.opts.TextScale},
		Align:         alignOf(p.align),
		WordBreakOnly: true,
	})
	if err != nil {
		return errors.Annotate(err, "render text")
	}
	return p.place(img)
}

func (p *TSPL) PrintBitmap(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return errors.NotValidf("empty bitmap")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if img.Bounds().Dx() > p.opts.Size.PixelW {
		img = imaging.FitInto(img, p.opts.Size.PixelW, img.Bounds().Dy())
	}
	return p.place(img)
}

var qrLevels = []struct {
	tspl string
	qr   qrcode.RecoveryLevel
}{
	{"L", qrcode.Low},
	{"M", qrcode.Medium},
	{"Q", qrcode.High},
	{"H", qrcode.Highest},
}

func (p *TSPL) PrintQRCode(data string, moduleSize, level int) error {
	if data == "" {
		return errors.NotValidf("empty QR data")
	}
	lv := qrLevels[clampInt(level, 0, 3)]
	q, err := qrcode.New(data, lv.qr)
	if err != nil {
		return errors.Annotate(err, "encode QR")
	}
	q.DisableBorder = true
	cell := clampInt(moduleSize, 1, 10)
	side := len(q.Bitmap()) * cell

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reserve(side); err != nil {
		return err
	}
	p.native.QRCode(p.x(side), p.y, lv.tspl, cell, data)
	p.y += side
	p.dirty = true
	return nil
}

var barcodeTypes = map[int]string{
	0: "UPCA",
	1: "UPCE",
	2: "EAN13",
	3: "EAN8",
	4: "39",
	5: "25",
	6: "CODA",
	7: "93",
	8: "128",
}

// hriHeight leaves room for the human readable line
const hriHeight = 24

// PrintBarCode uses the same symbology numbers as the ESC/POS backend
func (p *TSPL) PrintBarCode(data string, symbology, height, width, textPosition int) error {
	if data == "" {
		return errors.NotValidf("empty barcode data")
	}
	codeType, ok := barcodeTypes[symbology]
	if !ok {
		codeType = "128"
	}
	if height <= 0 {
		height = 80
	}
	narrow := clampInt(width, 1, 6)
	readable := textPosition > 0
	total := height
	if readable {
		total += hriHeight
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reserve(total); err != nil {
		return err
	}
	p.native.Barcode(p.x(barcodeWidth(data, narrow)), p.y, codeType, height, readable, narrow, narrow*2, data)
	p.y += total
	p.dirty = true
	return nil
}

// barcodeWidth estimates a CODE128 symbol: 11 modules per character plus
// start, check and stop
func barcodeWidth(data string, narrow int) int {
	return (11*len(data) + 35) * narrow
}

func (p *TSPL) SetAlignment(a settings.Alignment) error {
	p.mu.Lock()
	p.align = a.Normalize()
	p.mu.Unlock()
	return nil
}

func (p *TSPL) SetFontSize(size float64) error {
	if size <= 0 {
		return errors.NotValidf("font size %v", size)
	}
	p.mu.Lock()
	p.fontSize = size
	p.mu.Unlock()
	return nil
}

func (p *TSPL) LineWrap(lines int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advance(lines * p.lineHeight(p.fontSize))
}

// CutPaper prints the pending page and cuts
func (p *TSPL) CutPaper() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flush(); err != nil {
		return err
	}
	return p.write("cut", tspl.New().Cut().Bytes())
}

// Printer status bits for ESC !?
var statusText = []struct {
	bit byte
	msg string
}{
	{0x01, "head opened"},
	{0x02, "paper jam"},
	{0x04, "out of paper"},
	{0x08, "out of ribbon"},
	{0x10, "paused"},
	{0x80, "other error"},
}

// Ping queries ESC !? status. 0x20 (printing) counts as ready.
func (p *TSPL) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write("status request", []byte("\x1b!?")); err != nil {
		return err
	}
	buf := make([]byte, 1)
	n, err := p.link.Read(buf)
	if err != nil {
		return linkErr(err, "status read")
	}
	if n == 0 || buf[0]&^0x20 == 0 {
		return nil
	}
	var msgs []string
	for _, s := range statusText {
		if buf[0]&s.bit != 0 {
			msgs = append(msgs, s.msg)
		}
	}
	return &RemoteError{Code: int(buf[0]), Msg: strings.Join(msgs, ", ")}
}

func (p *TSPL) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return nil
	}
	err := p.link.Close()
	p.link = nil
	return errors.Trace(err)
}

func (p *TSPL) lineHeight(size float64) int {
	return int(math.Ceil(size * p.opts.TextScale * 1.2))
}

func (p *TSPL) x(width int) int {
	x := imaging.AlignedX(p.opts.Size.PixelW, width, alignOf(p.align))
	if x < 0 {
		return 0
	}
	return x
}

// reserve makes room for h dots, printing the current page first when
// it would overflow
func (p *TSPL) reserve(h int) error {
	if p.y > 0 && p.y+h > p.opts.Size.PixelH {
		return p.flush()
	}
	return nil
}

func (p *TSPL) place(img image.Image) error {
	h := img.Bounds().Dy()
	if err := p.reserve(h); err != nil {
		return err
	}
	p.page.Paste(img, image.Pt(0, p.y))
	p.y += h
	p.dirty = true
	return nil
}

func (p *TSPL) advance(h int) error {
	if h <= 0 {
		return nil
	}
	p.y += h
	if p.y >= p.opts.Size.PixelH {
		return p.flush()
	}
	return nil
}

// flush prints the page. A page holding only blank lines becomes a
// plain feed.
func (p *TSPL) flush() error {
	if !p.dirty {
		dots := p.y
		p.clearPage()
		if dots == 0 {
			return nil
		}
		return p.write("feed", tspl.New().Feed(dots).Bytes())
	}
	size := p.opts.Size
	bm := imaging.Pack(p.page.Image(), imaging.DefaultThreshold).Inverted()
	job := tspl.New().
		Size(size.Width, size.Height).
		Gap(p.opts.Gap, 0).
		Direction(0, 0).
		Density(p.opts.Density).
		Speed(p.opts.Speed).
		CLS().
		Bitmap(0, 0, bm.WidthBytes(), bm.Height, bm.Data).
		Append(p.native).
		Print(1)
	p.clearPage()
	return p.write("print page", job.Bytes())
}

func alignOf(a settings.Alignment) imaging.Align {
	switch a {
	case settings.AlignLeft:
		return imaging.AlignLeft
	case settings.AlignRight:
		return imaging.AlignRight
	default:
		return imaging.AlignCenter
	}
}
