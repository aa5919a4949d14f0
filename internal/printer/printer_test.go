package printer

import (
	"bytes"
	"context"
	"image"
	"io"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kitchen-print/internal/settings"
	"kitchen-print/internal/tspl"
)

// memLink collects writes and answers reads from resp
type memLink struct {
	bytes.Buffer
	resp     []byte
	writeErr error
	closed   bool
}

func (l *memLink) Write(b []byte) (int, error) {
	if l.writeErr != nil {
		return 0, l.writeErr
	}
	return l.Buffer.Write(b)
}

func (l *memLink) Read(b []byte) (int, error) {
	n := copy(b, l.resp)
	l.resp = l.resp[n:]
	return n, nil
}

func (l *memLink) Close() error {
	l.closed = true
	return nil
}

func TestESCPOSSequence(t *testing.T) {
	link := &memLink{}
	p := NewESCPOS(link, ESCPOSOptions{CodePage: "windows-1252"}, zaptest.NewLogger(t))

	require.NoError(t, p.PrinterInit())
	require.NoError(t, p.SetAlignment(settings.Alignment(9)))
	require.NoError(t, p.PrintText("ok\n"))
	require.NoError(t, p.LineWrap(3))
	require.NoError(t, p.CutPaper())

	want := []byte{
		0x1b, '@', 0x1b, 't', 16,
		0x1b, 'a', 1,
		'o', 'k', '\n',
		0x1b, 'd', 3,
		0x1d, 'V', 0,
	}
	assert.Equal(t, want, link.Bytes())
}

func TestESCPOSTextWithSizeRestoresFontSize(t *testing.T) {
	link := &memLink{}
	p := NewESCPOS(link, ESCPOSOptions{}, zaptest.NewLogger(t))
	require.NoError(t, p.SetFontSize(48))
	require.NoError(t, p.PrintTextWithSize("H", 28))
	require.NoError(t, p.PrintText("b"))

	want := []byte{
		0x1d, '!', 0x11,      // body 2x
		0x1d, '!', 0x22, 'H', // header 3x
		0x1d, '!', 0x11,      // back to 2x
		'b',
	}
	assert.Equal(t, want, link.Bytes())
}

func TestESCPOSTextWithSizeEnlargesSmallBody(t *testing.T) {
	link := &memLink{}
	p := NewESCPOS(link, ESCPOSOptions{}, zaptest.NewLogger(t))
	require.NoError(t, p.SetFontSize(12))
	require.NoError(t, p.PrintTextWithSize("H", 28))
	assert.Equal(t, []byte{0x1d, '!', 0x00, 0x1d, '!', 0x11, 'H', 0x1d, '!', 0x00}, link.Bytes())

	link.Reset()
	require.NoError(t, p.SetFontSize(1000))
	require.NoError(t, p.PrintTextWithSize("H", 28))
	assert.Equal(t, []byte{0x1d, '!', 0x77, 0x1d, '!', 0x77, 'H', 0x1d, '!', 0x77}, link.Bytes())

	// init drops back to 1x
	link.Reset()
	require.NoError(t, p.PrinterInit())
	link.Reset()
	require.NoError(t, p.PrintTextWithSize("H", 10))
	assert.Equal(t, []byte{0x1d, '!', 0x11, 'H', 0x1d, '!', 0x00}, link.Bytes())
}

func TestESCPOSBitmapScaledToHead(t *testing.T) {
	link := &memLink{}
	p := NewESCPOS(link, ESCPOSOptions{WidthDots: 64}, zaptest.NewLogger(t))
	require.NoError(t, p.PrintBitmap(image.NewRGBA(image.Rect(0, 0, 128, 32))))
	// GS v 0, 8 bytes wide, 16 rows
	assert.Equal(t, []byte{0x1d, 'v', '0', 0, 8, 0, 16, 0}, link.Bytes()[:8])
	assert.Len(t, link.Bytes(), 8+8*16)

	assert.True(t, errors.IsNotValid(p.PrintBitmap(image.NewRGBA(image.Rect(0, 0, 0, 0)))))
}

func TestESCPOSPing(t *testing.T) {
	log := zaptest.NewLogger(t)
	for _, tc := range []struct {
		name string
		resp []byte
		check func(t *testing.T, err error)
	}{
		{"silent", nil, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"online", []byte{0x12}, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"offline", []byte{0x1a}, func(t *testing.T, err error) {
			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, 0x1a, re.Code)
		}},
		{"garbage", []byte{0xff}, func(t *testing.T, err error) {
			assert.Equal(t, ErrRunFailed, errors.Cause(err))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			link := &memLink{resp: tc.resp}
			p := NewESCPOS(link, ESCPOSOptions{}, log)
			tc.check(t, p.Ping())
			assert.Equal(t, []byte{0x10, 0x04, 0x01}, link.Bytes())
		})
	}
}

func TestESCPOSLinkFailure(t *testing.T) {
	link := &memLink{writeErr: io.ErrClosedPipe}
	p := NewESCPOS(link, ESCPOSOptions{}, zaptest.NewLogger(t))

	err := p.CutPaper()
	require.Error(t, err)
	assert.Equal(t, ErrRemoteCallFailed, errors.Cause(err))
	assert.True(t, IsTransportError(err))
	assert.Contains(t, err.Error(), "cut")

	require.NoError(t, p.Close())
	assert.True(t, link.closed)
	assert.Equal(t, ErrNotConnected, errors.Cause(p.PrintText("x")))
	assert.NoError(t, p.Close())
}

func TestIsTransportError(t *testing.T) {
	assert.False(t, IsTransportError(nil))
	assert.True(t, IsTransportError(io.EOF))
	assert.True(t, IsTransportError(errors.Annotate(ErrNotConnected, "print")))
	assert.False(t, IsTransportError(&RemoteError{Code: 4, Msg: "out of paper"}))
	assert.False(t, IsTransportError(ErrRunFailed))
}

func newTSPL(t *testing.T, link *memLink) *TSPL {
	return NewTSPL(link, TSPLOptions{Size: tspl.Label40x30, Density: 8}, zaptest.NewLogger(t))
}

func TestTSPLPageFlushedOnCut(t *testing.T) {
	link := &memLink{}
	p := newTSPL(t, link)

	require.NoError(t, p.PrinterInit())
	require.NoError(t, p.SetAlignment(settings.AlignCenter))
	require.NoError(t, p.PrintText("Chicken\n"))
	require.NoError(t, p.PrintQRCode("B-1", 4, 1))
	assert.Equal(t, "\x1b!o", link.String(), "nothing printed before cut")

	require.NoError(t, p.CutPaper())
	out := link.String()
	assert.Contains(t, out, "SIZE 40.0 mm,30.0 mm\r\n")
	assert.Contains(t, out, "DENSITY 8\r\n")
	assert.Contains(t, out, "BITMAP 0,0,40,240,0,")
	assert.Contains(t, out, "QRCODE ")
	assert.Contains(t, out, ",M,4,A,0,\"B-1\"\r\n")
	assert.True(t, strings.HasSuffix(out, "PRINT 1\r\nCUT\r\n"))
}

func TestTSPLFeedOnlyPage(t *testing.T) {
	link := &memLink{}
	p := newTSPL(t, link)
	require.NoError(t, p.LineWrap(1))
	require.NoError(t, p.CutPaper())
	assert.Regexp(t, `^FEED \d+\r\nCUT\r\n$`, link.String())
}

func TestTSPLOverflowPrintsPage(t *testing.T) {
	link := &memLink{}
	p := newTSPL(t, link)
	tall := image.NewRGBA(image.Rect(0, 0, 320, 200))
	require.NoError(t, p.PrintBitmap(tall))
	require.NoError(t, p.PrintBitmap(tall))
	assert.Equal(t, 1, strings.Count(link.String(), "PRINT 1"))
	require.NoError(t, p.CutPaper())
	assert.Equal(t, 2, strings.Count(link.String(), "PRINT 1"))
}

func TestTSPLPing(t *testing.T) {
	link := &memLink{resp: []byte{0x04}}
	p := newTSPL(t, link)
	err := p.Ping()
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "out of paper", re.Msg)

	link.resp = []byte{0x20}
	assert.NoError(t, p.Ping())
}

func TestNewServiceDialects(t *testing.T) {
	log := zaptest.NewLogger(t)

	svc, err := NewService(&memLink{}, Config{Dialect: "tspl", LabelSize: "58x40mm"}, log)
	require.NoError(t, err)
	assert.IsType(t, &TSPL{}, svc)

	svc, err = NewService(&memLink{}, Config{}, log)
	require.NoError(t, err)
	assert.IsType(t, &ESCPOS{}, svc)

	_, err = NewService(&memLink{}, Config{Dialect: "zpl"}, log)
	assert.True(t, errors.IsNotSupported(err))

	_, err = NewService(&memLink{}, Config{Dialect: "tspl", LabelSize: "1x1mm"}, log)
	assert.True(t, errors.IsNotValid(err))
}

func TestOpenRejectsUnknownTransport(t *testing.T) {
	_, err := Open(context.Background(), Config{Transport: "carrier-pigeon"}, zaptest.NewLogger(t))
	assert.True(t, errors.IsNotSupported(err))
}
