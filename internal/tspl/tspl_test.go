package tspl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLabelSize(t *testing.T) {
	s := NewLabelSize(40, 30)
	assert.Equal(t, "40x30mm", s.Name)
	assert.Equal(t, 320, s.PixelW)
	assert.Equal(t, 240, s.PixelH)

	// width rounds up to a whole byte
	s = NewLabelSize(12.3, 10)
	assert.Equal(t, 0, s.PixelW%8)
	assert.GreaterOrEqual(t, s.PixelW, 98)
}

func TestLookupSize(t *testing.T) {
	s, ok := LookupSize("58X40MM")
	require.True(t, ok)
	assert.Equal(t, 58.0, s.Width)

	_, ok = LookupSize("nope")
	assert.False(t, ok)
}

func TestBuildPrintJob(t *testing.T) {
	size := NewLabelSize(40, 30)
	bitmap := make([]byte, size.PixelW/8*size.PixelH)
	job := string(BuildPrintJob(size, 20, bitmap, 0))

	lines := strings.Split(job, "\r\n")
	assert.Equal(t, "SIZE 40.0 mm,30.0 mm", lines[0])
	assert.Equal(t, "GAP 2.0 mm,0.0 mm", lines[1])
	assert.Equal(t, "DIRECTION 0,0", lines[2])
	assert.Equal(t, "DENSITY 15", lines[3])
	assert.Equal(t, "CLS", lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "BITMAP 0,0,40,240,0,"))
	assert.True(t, strings.HasSuffix(job, "PRINT 1\r\n"))
}

func TestQRCodeAndBarcode(t *testing.T) {
	out := New().QRCode(10, 20, "X", 0, `a"b`).Barcode(0, 0, "128", 80, true, 2, 2, "42").String()
	assert.Contains(t, out, "QRCODE 10,20,M,1,A,0,\"a\\[\"]b\"\r\n")
	assert.Contains(t, out, "BARCODE 0,0,\"128\",80,1,0,2,2,\"42\"\r\n")
}

func TestFeedAndCut(t *testing.T) {
	assert.Equal(t, "FEED 1\r\nCUT\r\n", New().Feed(0).Cut().String())
}

func TestAppendAndRaw(t *testing.T) {
	native := New().QRCode(0, 0, "M", 4, "x")
	out := New().CLS().Append(native).Raw([]byte("\x1b!o")).String()
	assert.Equal(t, "CLS\r\nQRCODE 0,0,M,4,A,0,\"x\"\r\n\x1b!o", out)
	assert.Equal(t, len(out), New().CLS().Append(native).Raw([]byte("\x1b!o")).Len())
}
