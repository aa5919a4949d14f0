package label

import (
	"image"
	"strings"

	"github.com/juju/errors"

	"kitchen-print/internal/imaging"
	"kitchen-print/internal/settings"
)

// HeaderSize is used for "PRODUCT LABEL" header lines
const HeaderSize = 28

// Line is one formatted line of a text label. Size 0 keeps the
// configured font size.
type Line struct {
	Text  string
	Align settings.Alignment
	Size  float64
}

// FormatLines applies the text label layout rules line by line:
// separators ("====") are centered, "PRODUCT:" lines are left aligned,
// "PRODUCT LABEL" headers are centered and enlarged, anything else is
// left aligned.
func FormatLines(text string) []Line {
	raw := splitLines(text)
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		switch {
		case strings.Contains(l, "===="):
			lines = append(lines, Line{Text: l, Align: settings.AlignCenter})
		case strings.HasPrefix(strings.TrimSpace(l), "PRODUCT:"):
			lines = append(lines, Line{Text: l, Align: settings.AlignLeft})
		case strings.Contains(l, "PRODUCT LABEL"):
			lines = append(lines, Line{Text: l, Align: settings.AlignCenter, Size: HeaderSize})
		default:
			lines = append(lines, Line{Text: l, Align: settings.AlignLeft})
		}
	}
	return lines
}

// NormalizeText leaves exactly one trailing newline
func NormalizeText(s string) string {
	return strings.TrimRight(s, "\n") + "\n"
}

// RenderLines draws formatted lines onto a canvas as wide as the label
// at scale, tall enough to hold every line.
func RenderLines(lines []Line, s settings.PrinterSettings, scale float64) (image.Image, error) {
	if len(lines) == 0 {
		return nil, errors.NotValidf("empty text")
	}
	w, _ := Size(s, scale)
	if scale <= 0 {
		scale = 1
	}

	height := 0
	for _, l := range lines {
		height += lineStep(lineSize(l, s) * scale)
	}
	height += lineStep(s.FontSize*scale) / 2

	canvas := imaging.NewCanvas(w, height)
	y := 0
	for _, l := range lines {
		fs := imaging.FontSpec{Name: s.FontName, Size: lineSize(l, s) * scale, Bold: s.PrintMode == "Bold"}
		y += lineStep(fs.Size)
		if _, err := canvas.DrawText(l.Text, fs, toImaging(l.Align), y); err != nil {
			return nil, errors.Annotatef(err, "line %q", l.Text)
		}
	}
	return canvas.Image(), nil
}

func lineSize(l Line, s settings.PrinterSettings) float64 {
	if l.Size > 0 {
		return l.Size
	}
	return s.FontSize
}

// splitLines splits on newlines, dropping trailing empty lines
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
