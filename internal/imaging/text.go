package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/juju/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// DPI used for point-to-pixel conversion. 72 makes a point one pixel,
// which matches how label sizes are expressed in settings.
const DPI = 72

type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Margin kept between text and the left/right label edge
const Margin = 10

// Font names understood by LoadFont
var FontNames = []string{"Default", "Monospace", "Sans Serif", "Serif"}

var fontCache sync.Map // key string -> *truetype.Font

func parseFont(key string, ttf []byte) (*truetype.Font, error) {
	if f, ok := fontCache.Load(key); ok {
		return f.(*truetype.Font), nil
	}
	f, err := truetype.Parse(ttf)
	if err != nil {
		return nil, errors.Annotatef(err, "parse font %s", key)
	}
	fontCache.Store(key, f)
	return f, nil
}

// LoadFont resolves a font name to one of the Go fonts.
// Unknown names use the default face.
func LoadFont(name string, bold bool) (*truetype.Font, error) {
	switch strings.ToLower(name) {
	case "monospace", "mono":
		if bold {
			return parseFont("mono-bold", gomonobold.TTF)
		}
		return parseFont("mono", gomono.TTF)
	case "serif":
		if bold {
			return parseFont("bold", gobold.TTF)
		}
		return parseFont("medium", gomedium.TTF)
	default:
		if bold {
			return parseFont("bold", gobold.TTF)
		}
		return parseFont("regular", goregular.TTF)
	}
}

// FontSpec selects a face for drawing
type FontSpec struct {
	Name string
	Size float64
	Bold bool
}

func (fs FontSpec) points() float64 {
	if fs.Size <= 0 {
		return 12
	}
	return fs.Size
}

func (fs FontSpec) face() (*truetype.Font, font.Face, error) {
	f, err := LoadFont(fs.Name, fs.Bold)
	if err != nil {
		return nil, nil, err
	}
	return f, truetype.NewFace(f, &truetype.Options{Size: fs.points(), DPI: DPI, Hinting: font.HintingFull}), nil
}

// MeasureText returns the advance width of s in pixels
func MeasureText(fs FontSpec, s string) (int, error) {
	_, face, err := fs.face()
	if err != nil {
		return 0, err
	}
	defer face.Close()
	return measureString(face, s), nil
}

// AlignedX positions a run of textWidth inside width
func AlignedX(width, textWidth int, align Align) int {
	switch align {
	case AlignLeft:
		return Margin
	case AlignRight:
		return width - textWidth - Margin
	default:
		return (width - textWidth) / 2
	}
}

// Canvas is a white RGBA surface that text and images are drawn on
type Canvas struct {
	img *image.RGBA
	fg  image.Image
}

func NewCanvas(width, height int) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return &Canvas{img: img, fg: image.Black}
}

func (c *Canvas) Bounds() image.Rectangle { return c.img.Bounds() }
func (c *Canvas) Image() image.Image      { return c.img }

// DrawText draws a single line with its baseline at y and returns the
// text width
func (c *Canvas) DrawText(text string, fs FontSpec, align Align, y int) (int, error) {
	f, face, err := fs.face()
	if err != nil {
		return 0, err
	}
	defer face.Close()

	w := measureString(face, text)
	x := AlignedX(c.img.Bounds().Dx(), w, align)

	ctx := c.context(f, fs.points())
	if _, err := ctx.DrawString(text, freetype.Pt(x, y)); err != nil {
		return 0, errors.Annotate(err, "draw text")
	}
	return w, nil
}

// DrawImage fits src into r keeping aspect ratio, horizontally aligned
func (c *Canvas) DrawImage(src image.Image, r image.Rectangle, align Align) {
	fitted := resizeToFit(src, r.Dx(), r.Dy())
	fb := fitted.Bounds()
	x := r.Min.X
	switch align {
	case AlignCenter:
		x += (r.Dx() - fb.Dx()) / 2
	case AlignRight:
		x += r.Dx() - fb.Dx()
	}
	dst := image.Rect(x, r.Min.Y, x+fb.Dx(), r.Min.Y+fb.Dy())
	draw.Draw(c.img, dst, fitted, fb.Min, draw.Over)
}

// Paste copies src unscaled with its top-left corner at pt
func (c *Canvas) Paste(src image.Image, pt image.Point) {
	b := src.Bounds()
	draw.Draw(c.img, image.Rectangle{Min: pt, Max: pt.Add(b.Size())}, src, b.Min, draw.Src)
}

func (c *Canvas) context(f *truetype.Font, size float64) *freetype.Context {
	ctx := freetype.NewContext()
	ctx.SetDPI(DPI)
	ctx.SetFont(f)
	ctx.SetFontSize(size)
	ctx.SetClip(c.img.Bounds())
	ctx.SetDst(c.img)
	ctx.SetSrc(c.fg)
	ctx.SetHinting(font.HintingFull)
	return ctx
}

// TextOptions configures text rendering
type TextOptions struct {
	Font          FontSpec
	Align         Align
	Orientation   Orientation
	Invert        bool // White text on black background
	WordBreakOnly bool // Only break lines on spaces, not mid-word
}

// RenderText creates an image from text with default options
func RenderText(text string, width, height int, fontSize float64, orientation Orientation) (image.Image, error) {
	return RenderTextWithOptions(text, width, height, TextOptions{
		Font:        FontSpec{Size: fontSize},
		Align:       AlignCenter,
		Orientation: orientation,
	})
}

// RenderTextWithOptions wraps text into a width x height image, lines
// stacked and vertically centered. A zero height sizes the image to fit.
func RenderTextWithOptions(text string, width, height int, opts TextOptions) (image.Image, error) {
	f, face, err := opts.Font.face()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	// For vertical, we swap dimensions for initial render, then rotate
	renderW, renderH := width, height
	if opts.Orientation == Vertical {
		renderW, renderH = height, width
	}

	lines := wrapLines(text, face, renderW-2*Margin, opts.WordBreakOnly)

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	if renderH <= 0 {
		renderH = len(lines)*lineHeight + metrics.Descent.Ceil()
	}

	bgColor, fgColor := color.Color(color.White), color.Color(color.Black)
	if opts.Invert {
		bgColor, fgColor = color.Black, color.White
	}

	img := image.NewRGBA(image.Rect(0, 0, renderW, renderH))
	draw.Draw(img, img.Bounds(), &image.Uniform{bgColor}, image.Point{}, draw.Src)

	c := &Canvas{img: img, fg: &image.Uniform{fgColor}}
	ctx := c.context(f, opts.Font.points())

	y := (renderH-len(lines)*lineHeight)/2 + metrics.Ascent.Ceil()
	for _, line := range lines {
		x := AlignedX(renderW, measureString(face, line), opts.Align)
		if _, err := ctx.DrawString(line, freetype.Pt(x, y)); err != nil {
			return nil, errors.Annotate(err, "draw text")
		}
		y += lineHeight
	}

	return Rotate(img, opts.Orientation), nil
}

// splitRunes hard-breaks s into pieces no wider than maxWidth
func splitRunes(s string, face font.Face, maxWidth int) []string {
	var out []string
	start, w := 0, fixed.Int26_6(0)
	limit := fixed.I(maxWidth)
	for i, r := range s {
		adv, _ := face.GlyphAdvance(r)
		if w+adv > limit && i > start {
			out = append(out, s[start:i])
			start, w = i, 0
		}
		w += adv
	}
	return append(out, s[start:])
}

// wrapLines lays text out in lines of at most maxWidth pixels. With
// wordsOnly set, lines break between words and a single word only
// splits when it cannot fit on a line by itself.
func wrapLines(text string, face font.Face, maxWidth int, wordsOnly bool) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if !wordsOnly {
			if para != "" {
				lines = append(lines, splitRunes(para, face, maxWidth)...)
			} else {
				lines = append(lines, "")
			}
			continue
		}
		cur := ""
		for _, word := range strings.Fields(para) {
			if cur != "" && measureString(face, cur+" "+word) <= maxWidth {
				cur += " " + word
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
			}
			parts := splitRunes(word, face, maxWidth)
			lines = append(lines, parts[:len(parts)-1]...)
			cur = parts[len(parts)-1]
		}
		lines = append(lines, cur)
	}
	// a trailing newline does not start another line
	if n := len(lines); n > 1 && lines[n-1] == "" && strings.HasSuffix(text, "\n") {
		lines = lines[:n-1]
	}
	return lines
}

func measureString(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// Rotate turns a horizontal rendering into the requested orientation.
// Vertical output is the input turned a quarter clockwise.
func Rotate(img image.Image, o Orientation) image.Image {
	if o != Vertical {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for sy := b.Min.Y; sy < b.Max.Y; sy++ {
		for sx := b.Min.X; sx < b.Max.X; sx++ {
			out.Set(b.Max.Y-1-sy, sx-b.Min.X, img.At(sx, sy))
		}
	}
	return out
}
