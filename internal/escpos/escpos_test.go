package escpos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicSequences(t *testing.T) {
	b := New().Init().Align(AlignCenter).Line("hi").Feed(3).Cut(true).Bytes()
	assert.Equal(t, []byte{
		0x1B, '@',
		0x1B, 'a', 1,
		'h', 'i', '\n',
		0x1B, 'd', 3,
		0x1D, 'V', 1,
	}, b)
}

func TestAlignUnknownCenters(t *testing.T) {
	for _, a := range []int{-1, 3, 42} {
		b := New().Align(a).Bytes()
		assert.Equal(t, []byte{0x1B, 'a', AlignCenter}, b, "align=%d", a)
	}
}

func TestMagnification(t *testing.T) {
	cases := []struct {
		size float64
		want int
	}{
		{0, 1},
		{12, 1},
		{24, 1},
		{28, 1},
		{48, 2},
		{72, 3},
		{1000, 8},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Magnification(tc.size), "size=%v", tc.size)
	}

	assert.Equal(t, []byte{0x1D, '!', 0x11}, New().FontSize(48).Bytes())
}

func TestFeedClamp(t *testing.T) {
	assert.Equal(t, []byte{0x1B, 'd', 0}, New().Feed(-2).Bytes())
	assert.Equal(t, []byte{0x1B, 'd', 255}, New().Feed(1000).Bytes())
}

func TestRasterHeader(t *testing.T) {
	data := make([]byte, 2*300)
	b := New().Raster(2, 300, data).Bytes()
	assert.Equal(t, []byte{0x1D, 'v', '0', 0, 2, 0, 0x2C, 0x01}, b[:8])
	assert.Len(t, b, 8+len(data))
}

func TestQRCode(t *testing.T) {
	b := New().QRCode("abc", 4, 0).Bytes()
	// store block length covers data plus "1P0"
	store := []byte{0x1D, '(', 'k', 6, 0, '1', 'P', '0', 'a', 'b', 'c'}
	assert.Contains(t, string(b), string(store))
	// out-of-range level falls back to M
	assert.Contains(t, string(b), string([]byte{0x1D, '(', 'k', 3, 0, '1', 'E', QRLevelM}))
	assert.Equal(t, []byte{0x1D, '(', 'k', 3, 0, '1', 'Q', '0'}, b[len(b)-8:])
}

func TestBarcodeCode128Prefix(t *testing.T) {
	b := New().Barcode("12345", BarcodeCode128, 80, 2, HRIBelow).Bytes()
	tail := []byte{0x1D, 'k', 73, 7, '{', 'B', '1', '2', '3', '4', '5'}
	assert.Equal(t, tail, b[len(b)-len(tail):])
}

func TestTextEncoding(t *testing.T) {
	cp, ok := LookupCodePage("Windows-1252")
	assert.True(t, ok)
	b := NewWithCodePage(cp).Text("café").Bytes()
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9}, b)

	b = New().Text("日").Bytes()
	assert.Equal(t, []byte{'?'}, b)

	_, ok = LookupCodePage("klingon")
	assert.False(t, ok)
}
