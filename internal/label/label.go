// Package label turns print requests into label images or formatted
// text lines.
package label

import (
	"image"
	"math"
	"strings"
	"time"

	"github.com/juju/errors"

	"kitchen-print/internal/imaging"
	"kitchen-print/internal/settings"
)

// DateLayout is dd/MM/yyyy
const DateLayout = "02/01/2006"

// Content is one bitmap label request
type Content struct {
	ProductName string
	StartDate   time.Time
	EndDate     time.Time
	Text        string      // optional lines drawn under the dates
	Image       image.Image // optional, fitted into the space left
}

// DateRange formats "dd/MM/yyyy - dd/MM/yyyy"
func DateRange(start, end time.Time) string {
	return start.Format(DateLayout) + " - " + end.Format(DateLayout)
}

// Size returns the canvas size in pixels for s at scale
func Size(s settings.PrinterSettings, scale float64) (int, int) {
	if scale <= 0 {
		scale = 1
	}
	return int(float64(s.LabelWidth) * scale), int(float64(s.LabelHeight) * scale)
}

// Render draws the product name and date range onto a white canvas of
// labelWidth x labelHeight scaled. The name is bold on the 40% baseline,
// the dates regular on the 60% baseline.
func Render(c Content, s settings.PrinterSettings, scale float64) (image.Image, error) {
	if strings.TrimSpace(c.ProductName) == "" {
		return nil, errors.NotValidf("empty product name")
	}
	if scale <= 0 {
		scale = 1
	}
	w, h := Size(s, scale)
	if w <= 0 || h <= 0 {
		return nil, errors.NotValidf("label size %dx%d", w, h)
	}

	align := toImaging(s.Alignment)
	canvas := imaging.NewCanvas(w, h)

	name := imaging.FontSpec{Name: s.FontName, Size: s.ProductNameSize * scale, Bold: true}
	if _, err := canvas.DrawText(c.ProductName, name, align, int(float64(h)*0.4)); err != nil {
		return nil, errors.Annotate(err, "product name")
	}

	dates := imaging.FontSpec{Name: s.FontName, Size: s.DateSize * scale}
	dateY := int(float64(h) * 0.6)
	if _, err := canvas.DrawText(DateRange(c.StartDate, c.EndDate), dates, align, dateY); err != nil {
		return nil, errors.Annotate(err, "dates")
	}

	y := dateY
	if c.Text != "" {
		body := imaging.FontSpec{Name: s.FontName, Size: s.FontSize * scale}
		step := lineStep(body.Size)
		for _, line := range splitLines(c.Text) {
			y += step
			if _, err := canvas.DrawText(line, body, align, y); err != nil {
				return nil, errors.Annotate(err, "text")
			}
		}
	}

	if s.CustomText.Enabled && s.CustomText.Content != "" {
		if err := drawCustomText(canvas, s, scale); err != nil {
			return nil, err
		}
	}

	if c.Image != nil {
		top := y + int(math.Ceil(s.DateSize*scale*0.3))
		if r := image.Rect(0, top, w, h); r.Dy() > 0 {
			canvas.DrawImage(c.Image, r, align)
		}
	}

	return canvas.Image(), nil
}

func drawCustomText(canvas *imaging.Canvas, s settings.PrinterSettings, scale float64) error {
	h := canvas.Bounds().Dy()
	fs := imaging.FontSpec{Name: s.FontName, Size: s.CustomText.Size * scale}
	y, align := int(float64(h)*0.9), toImaging(s.Alignment)
	switch s.CustomText.Position {
	case "Top":
		y = int(math.Ceil(fs.Size))
	case "Left":
		align = imaging.AlignLeft
	case "Right":
		align = imaging.AlignRight
	}
	_, err := canvas.DrawText(s.CustomText.Content, fs, align, y)
	return errors.Annotate(err, "custom text")
}

func lineStep(size float64) int {
	return int(math.Ceil(size * 1.2))
}

func toImaging(a settings.Alignment) imaging.Align {
	switch a {
	case settings.AlignLeft:
		return imaging.AlignLeft
	case settings.AlignRight:
		return imaging.AlignRight
	default:
		return imaging.AlignCenter
	}
}
