package imaging

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/juju/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultThreshold separates dark from light pixels
const DefaultThreshold = 128

// DecodeImage decodes PNG, JPEG, GIF, BMP or WebP data
func DecodeImage(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Annotate(err, "decode image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.NotValidf("empty %s image", format)
	}
	return img, nil
}

// EncodePNG writes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	return errors.Trace(png.Encode(w, img))
}

// Bitmap is a packed 1-bit image, MSB first, 1 = black
type Bitmap struct {
	Width  int // pixels, multiple of 8
	Height int
	Data   []byte
}

// WidthBytes returns the row stride
func (b Bitmap) WidthBytes() int {
	return b.Width / 8
}

// Inverted returns a copy with every bit flipped
func (b Bitmap) Inverted() Bitmap {
	out := Bitmap{Width: b.Width, Height: b.Height, Data: make([]byte, len(b.Data))}
	for i, v := range b.Data {
		out.Data[i] = ^v
	}
	return out
}

// Pack converts an image to a Bitmap at its own size, padding the
// width up to a whole byte with white.
func Pack(img image.Image, threshold uint8) Bitmap {
	b := img.Bounds()
	w := (b.Dx() + 7) / 8 * 8
	return Bitmap{
		Width:  w,
		Height: b.Dy(),
		Data:   pack(img, w, b.Dy(), threshold, false),
	}
}

func pack(img image.Image, width, height int, threshold uint8, invert bool) []byte {
	bounds := img.Bounds()
	widthBytes := width / 8
	data := make([]byte, widthBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var gray uint8 = 255 // white for out of bounds
			if x < bounds.Dx() && y < bounds.Dy() {
				gray = rgbToGray(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			}

			var bit uint8
			if gray < threshold {
				bit = 1
			}
			if invert {
				bit = 1 - bit
			}

			data[y*widthBytes+x/8] |= bit << (7 - (x % 8))
		}
	}

	return data
}

// rgbToGray converts a color to grayscale, treating transparency as white
func rgbToGray(c color.Color) uint8 {
	r, g, b, a := c.RGBA()
	if a == 0 {
		return 255
	}
	// Composite over white; values are 16-bit so divide by 256
	bg := float64(0xffff - a)
	gray := (0.299*(float64(r)+bg) + 0.587*(float64(g)+bg) + 0.114*(float64(b)+bg)) / 256
	if gray > 255 {
		gray = 255
	}
	return uint8(gray)
}

// resizeToFit scales image to fit within bounds while maintaining aspect ratio
func resizeToFit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == 0 || srcH == 0 || maxW <= 0 || maxH <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	scale := float64(maxW) / float64(srcW)
	if s := float64(maxH) / float64(srcH); s < scale {
		scale = s
	}

	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)

	// Nearest-neighbor is good enough for thermal printing
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))

	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			srcX := int(float64(x) / scale)
			srcY := int(float64(y) / scale)
			if srcX >= srcW {
				srcX = srcW - 1
			}
			if srcY >= srcH {
				srcY = srcH - 1
			}
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}

// FitInto scales img to fit maxW x maxH keeping aspect ratio
func FitInto(img image.Image, maxW, maxH int) image.Image {
	return resizeToFit(img, maxW, maxH)
}

// PreviewMonochrome creates a viewable image from monochrome bitmap data
func PreviewMonochrome(bm Bitmap) image.Image {
	widthBytes := bm.WidthBytes()
	img := image.NewGray(image.Rect(0, 0, bm.Width, bm.Height))

	for y := 0; y < bm.Height; y++ {
		for x := 0; x < bm.Width; x++ {
			bit := (bm.Data[y*widthBytes+x/8] >> (7 - (x % 8))) & 1
			if bit == 1 {
				img.SetGray(x, y, color.Gray{0})
			} else {
				img.SetGray(x, y, color.Gray{255})
			}
		}
	}

	return img
}
