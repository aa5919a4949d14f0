package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kitchen-print/internal/connection"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/printer/printertest"
	"kitchen-print/internal/printing"
	"kitchen-print/internal/queue"
	"kitchen-print/internal/settings"
)

type env struct {
	fake   *printertest.Fake
	conn   *connection.Manager
	store  *settings.Store
	queue  *queue.Queue
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	fake := printertest.New()
	conn := connection.New(func(context.Context) (printer.Service, error) {
		return fake, nil
	}, connection.Options{RetryDelay: time.Millisecond}, log)
	store, err := settings.Open("", log)
	require.NoError(t, err)
	q, err := queue.Open("", queue.Options{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	p := printing.New(conn, store, nil, printing.Options{Scale: 1}, log)
	router := New(Deps{
		Conn:    conn,
		Printer: p,
		Store:   store,
		Queue:   q,
		Config:  printer.Config{Transport: "tcp", Dialect: "escpos"},
		Discover: func() printer.Devices {
			return printer.Devices{Serial: []string{"/dev/ttyUSB0"}}
		},
		Log: log,
	}, []string{"http://localhost:3000"})
	return &env{fake: fake, conn: conn, store: store, queue: q, router: router}
}

func (e *env) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, e.conn.Bind(context.Background(), nil).Wait(context.Background()))
	e.fake.Reset()
}

func (e *env) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do("GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestStatusAndConnect(t *testing.T) {
	e := newEnv(t)
	var st StatusResponse
	decode(t, e.do("GET", "/status", nil), &st)
	assert.Equal(t, "disconnected", st.State)
	assert.False(t, st.Connected)
	assert.Equal(t, "tcp", st.Transport)
	assert.Equal(t, "Default", st.Profile)

	w := e.do("POST", "/connect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, e.do("GET", "/status", nil), &st)
	assert.True(t, st.Connected)

	w = e.do("POST", "/disconnect", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, e.conn.IsConnected())
}

func TestConnectInitFailure(t *testing.T) {
	e := newEnv(t)
	e.fake.FailInit(10)
	w := e.do("POST", "/connect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp PrintResponse
	decode(t, w, &resp)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "failed to initialize printer after 3 attempts")
}

func TestPrintWhenNotConnected(t *testing.T) {
	e := newEnv(t)
	w := e.do("POST", "/print-text", PrintTextRequest{Text: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPrintTextAppliesSettings(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	lines, align := 5, "center"
	w := e.do("POST", "/print-text", PrintTextRequest{
		Text:     "PRODUCT: Soup",
		Settings: &RequestSettings{LinesPerFeed: &lines, Alignment: &align},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PrintResponse
	decode(t, w, &resp)
	assert.Equal(t, PrintResponse{Success: true, Status: "printed"}, resp)
	assert.Equal(t, 5, e.store.Snapshot().LinesPerFeed)
	assert.Equal(t, settings.AlignCenter, e.store.Snapshot().Alignment)
	assert.Contains(t, e.fake.History(), "LineWrap(3)")
}

func TestPrintTextValidation(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	assert.Equal(t, http.StatusBadRequest, e.do("POST", "/print-text", "{").Code)
	assert.Equal(t, http.StatusBadRequest, e.do("POST", "/print-text", map[string]string{}).Code)
}

func TestPrintLabelParsed(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	w := e.do("POST", "/print-label", map[string]interface{}{
		"label_data": map[string]interface{}{
			"product_name": "Chicken Stock",
			"batch_no":     "B12",
			"dates":        []string{"01/03/2024", "04/03/2024"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, e.fake.History(), `PrintText("Batch: B12\n")`)
	assert.Equal(t, "CutPaper", e.fake.History()[len(e.fake.History())-1])
}

func TestPrintLabelBitmap(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	w := e.do("POST", "/print-label", PrintLabelRequest{
		ProductName: "Rice",
		StartDate:   "01/03/2024",
		EndDate:     "2024-03-04",
		Image:       pngBase64(t),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, e.fake.Count("PrintBitmap"))

	w = e.do("POST", "/print-label", PrintLabelRequest{ProductName: "Rice", StartDate: "March"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do("POST", "/print-label", PrintLabelRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func pngBase64(t *testing.T) string {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestPreviewPNG(t *testing.T) {
	e := newEnv(t)
	w := e.do("POST", "/preview", PrintLabelRequest{ProductName: "Rice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Empty(t, e.fake.History())
}

func TestSettingsEndpoints(t *testing.T) {
	e := newEnv(t)

	var s settings.PrinterSettings
	decode(t, e.do("GET", "/settings", nil), &s)
	assert.Equal(t, settings.Defaults(), s)

	s.FontSize = 24
	s.Alignment = settings.AlignRight
	w := e.do("PUT", "/settings", s)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 24.0, e.store.Snapshot().FontSize)

	s.LabelWidth = -1
	assert.Equal(t, http.StatusBadRequest, e.do("PUT", "/settings", s).Code)

	w = e.do("PUT", "/settings/profiles/Deli", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p ProfilesResponse
	decode(t, e.do("GET", "/settings/profiles", nil), &p)
	assert.Equal(t, "Deli", p.Current)
	assert.ElementsMatch(t, []string{"Default", "Deli"}, p.Profiles)

	assert.Equal(t, http.StatusNotFound, e.do("DELETE", "/settings/profiles/Bakery", nil).Code)

	w = e.do("POST", "/settings/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.0, e.store.Snapshot().FontSize)
}

func TestFeedCutCodes(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	assert.Equal(t, http.StatusOK, e.do("POST", "/feed", FeedRequest{Lines: 9}).Code)
	assert.Equal(t, http.StatusOK, e.do("POST", "/feed", nil).Code)
	assert.Equal(t, http.StatusOK, e.do("POST", "/cut", nil).Code)
	assert.Equal(t, http.StatusOK, e.do("POST", "/qrcode", QRCodeRequest{Data: "B12", Size: 6}).Code)
	assert.Equal(t, http.StatusOK, e.do("POST", "/barcode", BarCodeRequest{Data: "12345"}).Code)
	assert.Equal(t, []string{
		"LineWrap(3)",
		"LineWrap(3)",
		"CutPaper",
		`PrintQRCode("B12",6,2)`,
		"LineWrap(3)",
		`PrintBarCode("12345",8,80,2,0)`,
		"LineWrap(3)",
	}, e.fake.History())
}

func TestRemoteFailureIs500(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	e.fake.Fail("CutPaper", &printer.RemoteError{Code: 2, Msg: "cover open"})
	w := e.do("POST", "/cut", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "cover open")
}

func TestQueueLabels(t *testing.T) {
	e := newEnv(t)
	body := `[{"label_id":"1","parsed_data":{"product_name":"Soup"}},{"label_id":"2","parsed_data":{"product_name":"Rice"}}]`
	w := e.do("POST", "/labels", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		Jobs []queue.Job `json:"jobs"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, queue.KindParsed, resp.Jobs[0].Kind)
	assert.Equal(t, "Rice", resp.Jobs[1].Parsed.ProductName)

	w = e.do("POST", "/labels", `{"parsed_data":{"product_name":"Pie"}}`)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, e.do("POST", "/labels", `[]`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do("POST", "/labels", `{"parsed_data":{}}`).Code)

	w = e.do("GET", "/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDevices(t *testing.T) {
	e := newEnv(t)
	w := e.do("GET", "/devices", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "/dev/ttyUSB0"))
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest("OPTIONS", "/print-text", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, toHTTPStatus(errors.Annotate(printer.ErrServiceUnbound, "print")))
	assert.Equal(t, http.StatusBadRequest, toHTTPStatus(errors.NotValidf("x")))
	assert.Equal(t, http.StatusNotFound, toHTTPStatus(errors.NotFoundf("x")))
	assert.Equal(t, http.StatusInternalServerError, toHTTPStatus(printer.ErrRunFailed))
}
