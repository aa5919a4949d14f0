package imaging

import (
	"image"

	"github.com/juju/errors"
	qrcode "github.com/skip2/go-qrcode"
)

// RenderQRCode encodes data as a size x size QR image with medium
// error correction.
func RenderQRCode(data string, size int) (image.Image, error) {
	if data == "" {
		return nil, errors.NotValidf("empty QR data")
	}
	q, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, errors.Annotate(err, "encode QR")
	}
	q.DisableBorder = size < 64
	return q.Image(size), nil
}
