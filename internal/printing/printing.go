// Package printing sequences composed labels and text through the bound
// print service.
package printing

import (
	"context"
	"image"
	"math"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/connection"
	"kitchen-print/internal/imaging"
	"kitchen-print/internal/label"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/settings"
)

const (
	DefaultMaxLinesPerFeed = 3
	DefaultScale           = 2

	// vendor defaults for QR error level and the barcode layout
	qrLevel        = 2
	barSymbology   = 8
	barHeight      = 80
	barWidth       = 2
	barTextNone    = 0
	defaultQRPoint = 8
)

type Options struct {
	// Scale multiplies label settings into pixels
	Scale           float64
	MaxLinesPerFeed int
}

// Printer runs print sequences one at a time on the connection manager.
// Failures are returned and also reported to the listener's OnError.
type Printer struct {
	conn     *connection.Manager
	store    *settings.Store
	listener connection.Listener
	opts     Options
	log      *zap.Logger
}

func New(conn *connection.Manager, store *settings.Store, l connection.Listener, opts Options, log *zap.Logger) *Printer {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.MaxLinesPerFeed <= 0 {
		opts.MaxLinesPerFeed = DefaultMaxLinesPerFeed
	}
	if l == nil {
		l = connection.ListenerFuncs{}
	}
	return &Printer{
		conn:     conn,
		store:    store,
		listener: l,
		opts:     opts,
		log:      log.Named("printing"),
	}
}

// FeedLines clamps lines to [1, limit] and rounds up
func FeedLines(lines float64, limit int) int {
	if limit < 1 {
		limit = 1
	}
	if lines > float64(limit) {
		lines = float64(limit)
	}
	if lines < 1 || math.IsNaN(lines) {
		lines = 1
	}
	return int(math.Ceil(lines))
}

func (p *Printer) feed(s settings.PrinterSettings) int {
	n := FeedLines(float64(s.LinesPerFeed), p.opts.MaxLinesPerFeed)
	if n != s.LinesPerFeed {
		p.log.Debug("lines per feed capped", zap.Int("configured", s.LinesPerFeed), zap.Int("used", n))
	}
	return n
}

// Preview renders the bitmap label without printing it
func (p *Printer) Preview(c label.Content) (image.Image, error) {
	s := p.store.Snapshot()
	img, err := label.Render(c, s, p.opts.Scale)
	if err != nil {
		return nil, err
	}
	if s.Orientation == "vertical" {
		img = imaging.Rotate(img, imaging.Vertical)
	}
	return img, nil
}

// PreviewText renders a text label the way PrintLabelText lays it out
func (p *Printer) PreviewText(text string) (image.Image, error) {
	return label.RenderLines(label.FormatLines(text), p.store.Snapshot(), p.opts.Scale)
}

// PrintLabel renders content to a bitmap and prints it:
// init, alignment, paper offset, bitmap, feed, cut.
func (p *Printer) PrintLabel(ctx context.Context, c label.Content) error {
	img, err := p.Preview(c)
	if err != nil {
		return p.report("print label", err)
	}
	s := p.store.Snapshot()
	err = p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.PrinterInit(); err != nil {
			return err
		}
		if err := svc.SetAlignment(s.Alignment); err != nil {
			return err
		}
		if s.PaperOffset > 0 {
			if err := svc.LineWrap(s.PaperOffset); err != nil {
				return err
			}
		}
		if err := svc.PrintBitmap(img); err != nil {
			return err
		}
		if err := svc.LineWrap(p.feed(s)); err != nil {
			return err
		}
		return svc.CutPaper()
	})
	return p.report("print label", err)
}

// PrintLabelText prints text line by line using the text label layout
// rules, then feeds and cuts.
func (p *Printer) PrintLabelText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return p.report("print label", errors.NotValidf("empty label text"))
	}
	s := p.store.Snapshot()
	lines := label.FormatLines(text)
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.PrinterInit(); err != nil {
			return err
		}
		if err := svc.SetAlignment(settings.AlignCenter); err != nil {
			return err
		}
		if err := svc.SetFontSize(s.FontSize); err != nil {
			return err
		}
		for _, l := range lines {
			if err := svc.SetAlignment(l.Align); err != nil {
				return err
			}
			if l.Size > 0 {
				err := svc.PrintTextWithSize(l.Text+"\n", l.Size)
				if err != nil {
					return err
				}
				continue
			}
			if err := svc.PrintText(l.Text + "\n"); err != nil {
				return err
			}
		}
		if err := svc.LineWrap(p.feed(s)); err != nil {
			return err
		}
		return svc.CutPaper()
	})
	return p.report("print label", err)
}

// PrintLabelContent prints an optional image followed by optional text,
// then feeds and cuts.
func (p *Printer) PrintLabelContent(ctx context.Context, text string, img image.Image) error {
	if text == "" && img == nil {
		return p.report("print label content", errors.NotValidf("empty label content"))
	}
	s := p.store.Snapshot()
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.PrinterInit(); err != nil {
			return err
		}
		if img != nil {
			if err := svc.PrintBitmap(img); err != nil {
				return err
			}
		}
		if text != "" {
			if err := svc.SetFontSize(s.FontSize); err != nil {
				return err
			}
			if err := svc.PrintText(label.NormalizeText(text)); err != nil {
				return err
			}
		}
		if err := svc.LineWrap(p.feed(s)); err != nil {
			return err
		}
		return svc.CutPaper()
	})
	return p.report("print label content", err)
}

// PrintText prints text at the configured size and feeds
func (p *Printer) PrintText(ctx context.Context, text string) error {
	s := p.store.Snapshot()
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.SetFontSize(s.FontSize); err != nil {
			return err
		}
		if err := svc.PrintText(text); err != nil {
			return err
		}
		return svc.LineWrap(p.feed(s))
	})
	return p.report("print text", err)
}

// PrintTextWithSize prints text at size with exactly one trailing
// newline and no feed, then restores the configured size.
func (p *Printer) PrintTextWithSize(ctx context.Context, text string, size float64) error {
	if size <= 0 {
		return p.report("print text with size", errors.NotValidf("font size %v", size))
	}
	s := p.store.Snapshot()
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.SetFontSize(size); err != nil {
			return err
		}
		if err := svc.PrintText(label.NormalizeText(text)); err != nil {
			return err
		}
		return svc.SetFontSize(s.FontSize)
	})
	return p.report("print text with size", err)
}

// PrintBitmap prints img and feeds
func (p *Printer) PrintBitmap(ctx context.Context, img image.Image) error {
	if img == nil {
		return p.report("print bitmap", errors.NotValidf("nil image"))
	}
	s := p.store.Snapshot()
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.PrintBitmap(img); err != nil {
			return err
		}
		return svc.LineWrap(p.feed(s))
	})
	return p.report("print bitmap", err)
}

// PrintQRCode prints data as a QR code with module size and feeds
func (p *Printer) PrintQRCode(ctx context.Context, data string, size int) error {
	if data == "" {
		return p.report("print QR code", errors.NotValidf("empty QR data"))
	}
	if size <= 0 {
		size = defaultQRPoint
	}
	s := p.store.Snapshot()
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.PrintQRCode(data, size, qrLevel); err != nil {
			return err
		}
		return svc.LineWrap(p.feed(s))
	})
	return p.report("print QR code", err)
}

// PrintBarCode prints data as CODE128 and feeds
func (p *Printer) PrintBarCode(ctx context.Context, data string) error {
	if data == "" {
		return p.report("print barcode", errors.NotValidf("empty barcode data"))
	}
	s := p.store.Snapshot()
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		if err := svc.PrintBarCode(data, barSymbology, barHeight, barWidth, barTextNone); err != nil {
			return err
		}
		return svc.LineWrap(p.feed(s))
	})
	return p.report("print barcode", err)
}

// FeedPaper feeds lines, clamped and rounded up. Zero uses the
// configured lines per feed.
func (p *Printer) FeedPaper(ctx context.Context, lines float64) error {
	if lines == 0 {
		lines = float64(p.store.Snapshot().LinesPerFeed)
	}
	n := FeedLines(lines, p.opts.MaxLinesPerFeed)
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		return svc.LineWrap(n)
	})
	return p.report("feed paper", err)
}

func (p *Printer) CutPaper(ctx context.Context) error {
	err := p.conn.Do(ctx, func(svc printer.Service) error {
		return svc.CutPaper()
	})
	return p.report("cut paper", err)
}

func (p *Printer) report(op string, err error) error {
	if err == nil {
		return nil
	}
	var msg string
	if errors.Cause(err) == printer.ErrServiceUnbound {
		msg = "printer service not connected"
	} else {
		msg = "failed to " + op + ": " + err.Error()
	}
	p.log.Error(op+" failed", zap.Error(err))
	p.listener.OnError(msg)
	return errors.Annotate(err, op)
}
