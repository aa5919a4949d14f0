// Package api exposes the print daemon over HTTP.
package api

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/connection"
	"kitchen-print/internal/imaging"
	"kitchen-print/internal/label"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/printing"
	"kitchen-print/internal/queue"
	"kitchen-print/internal/settings"
)

const connectTimeout = 30 * time.Second

type Deps struct {
	Conn     *connection.Manager
	Printer  *printing.Printer
	Store    *settings.Store
	Queue    *queue.Queue
	Listener connection.Listener
	Config   printer.Config
	// Discover lists bindable printers; printer.Discover when nil
	Discover func() printer.Devices
	Log      *zap.Logger
}

type Handler struct {
	Deps
	log *zap.Logger
}

// New builds the router. An empty origins list disables CORS.
func New(d Deps, origins []string) *gin.Engine {
	h := &Handler{Deps: d, log: d.Log.Named("api")}
	if h.Listener == nil {
		h.Listener = connection.ListenerFuncs{}
	}
	if h.Discover == nil {
		h.Discover = func() printer.Devices { return printer.Discover(h.log) }
	}

	r := gin.New()
	r.Use(h.logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)
	if len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		}))
	}
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/status", h.Status)
	r.GET("/devices", h.Devices)

	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.PutSettings)
	r.POST("/settings/reset", h.ResetSettings)
	r.GET("/settings/profiles", h.Profiles)
	r.PUT("/settings/profiles/:name", h.SwitchProfile)
	r.DELETE("/settings/profiles/:name", h.DeleteProfile)

	r.POST("/connect", h.Connect)
	r.POST("/disconnect", h.Disconnect)

	r.POST("/print-label", h.PrintLabel)
	r.POST("/print-text", h.PrintText)
	r.POST("/preview", h.Preview)
	r.POST("/qrcode", h.QRCode)
	r.POST("/barcode", h.BarCode)
	r.POST("/feed", h.Feed)
	r.POST("/cut", h.Cut)

	r.POST("/labels", h.QueueLabels)
	r.GET("/jobs", h.Jobs)
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		State:     h.Conn.State().String(),
		Connected: h.Conn.IsConnected(),
		Transport: h.Config.Transport,
		Dialect:   h.Config.Dialect,
		Profile:   h.Store.Snapshot().CurrentProfile,
	})
}

func (h *Handler) Devices(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discover())
}

// ===== settings =====

func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Snapshot())
}

func (h *Handler) PutSettings(c *gin.Context) {
	var req settings.PrinterSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.NewNotValid(err, "invalid json"))
		return
	}
	s, err := h.Store.Update(func(p *settings.PrinterSettings) {
		profile := p.CurrentProfile
		*p = req
		p.CurrentProfile = profile
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) ResetSettings(c *gin.Context) {
	s, err := h.Store.ResetToDefaults()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) Profiles(c *gin.Context) {
	c.JSON(http.StatusOK, ProfilesResponse{
		Current:  h.Store.Snapshot().CurrentProfile,
		Profiles: h.Store.Profiles(),
	})
}

func (h *Handler) SwitchProfile(c *gin.Context) {
	s, err := h.Store.SwitchProfile(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteProfile(c *gin.Context) {
	if err := h.Store.DeleteProfile(c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== connection =====

// Connect binds the printer and waits for the outcome. The bind itself
// outlives the request.
func (h *Handler) Connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()
	if err := h.Conn.Bind(context.Background(), h.Listener).Wait(ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, PrintResponse{Success: true, Status: h.Conn.State().String()})
}

func (h *Handler) Disconnect(c *gin.Context) {
	h.Conn.Unbind()
	c.JSON(http.StatusOK, PrintResponse{Success: true, Status: h.Conn.State().String()})
}

// ===== printing =====

func (h *Handler) applySettings(rs *RequestSettings) error {
	if rs == nil {
		return nil
	}
	_, err := h.Store.Update(rs.apply)
	return err
}

func (h *Handler) PrintLabel(c *gin.Context) {
	var req PrintLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.NewNotValid(err, "invalid json"))
		return
	}
	if err := h.applySettings(req.Settings); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	var err error
	if req.LabelData != nil {
		err = h.Printer.PrintLabelText(ctx, label.BuildContent(*req.LabelData))
	} else {
		var content label.Content
		if content, err = req.Content(); err == nil {
			err = h.Printer.PrintLabel(ctx, content)
		}
	}
	h.printed(c, err)
}

func (h *Handler) PrintText(c *gin.Context) {
	var req PrintTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.NewNotValid(err, "invalid json"))
		return
	}
	if err := h.applySettings(req.Settings); err != nil {
		h.fail(c, err)
		return
	}
	h.printed(c, h.Printer.PrintLabelText(c.Request.Context(), req.Text))
}

// Preview renders a /print-label body as PNG without printing
func (h *Handler) Preview(c *gin.Context) {
	var req PrintLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.NewNotValid(err, "invalid json"))
		return
	}
	var (
		img     image.Image
		content label.Content
		err     error
	)
	if req.LabelData != nil {
		img, err = h.Printer.PreviewText(label.BuildContent(*req.LabelData))
	} else if content, err = req.Content(); err == nil {
		img, err = h.Printer.Preview(content)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := imaging.EncodePNG(c.Writer, img); err != nil {
		h.log.Error("encode preview", zap.Error(err))
	}
}

func (h *Handler) QRCode(c *gin.Context) {
	var req QRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.NewNotValid(err, "invalid json"))
		return
	}
	h.printed(c, h.Printer.PrintQRCode(c.Request.Context(), req.Data, req.Size))
}

func (h *Handler) BarCode(c *gin.Context) {
	var req BarCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.NewNotValid(err, "invalid json"))
		return
	}
	h.printed(c, h.Printer.PrintBarCode(c.Request.Context(), req.Data))
}

func (h *Handler) Feed(c *gin.Context) {
	var req FeedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, errors.NewNotValid(err, "invalid json"))
			return
		}
	}
	h.printed(c, h.Printer.FeedPaper(c.Request.Context(), req.Lines))
}

func (h *Handler) Cut(c *gin.Context) {
	h.printed(c, h.Printer.CutPaper(c.Request.Context()))
}

// ===== queue =====

// QueueLabels accepts one parsed label or a list and queues them
func (h *Handler) QueueLabels(c *gin.Context) {
	var batch []label.Response
	if err := c.ShouldBindBodyWith(&batch, binding.JSON); err != nil {
		var one label.Response
		if err := c.ShouldBindBodyWith(&one, binding.JSON); err != nil {
			h.fail(c, errors.NewNotValid(err, "invalid json"))
			return
		}
		batch = []label.Response{one}
	}
	if len(batch) == 0 {
		h.fail(c, errors.NotValidf("empty label batch"))
		return
	}

	jobs := make([]queue.Job, 0, len(batch))
	for i := range batch {
		j, err := h.Queue.Submit(queue.Job{Kind: queue.KindParsed, Parsed: &batch[i].ParsedData})
		if err != nil {
			h.fail(c, err)
			return
		}
		jobs = append(jobs, j)
	}
	c.JSON(http.StatusAccepted, gin.H{"jobs": jobs})
}

func (h *Handler) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": h.Queue.Recent()})
}

// ===== helpers =====

func (h *Handler) printed(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, PrintResponse{Success: true, Status: "printed"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := toHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, PrintResponse{Success: false, Error: err.Error()})
}

func toHTTPStatus(err error) int {
	switch cause := errors.Cause(err); {
	case cause == printer.ErrServiceUnbound, cause == printer.ErrInitializationFailed:
		return http.StatusServiceUnavailable
	case errors.IsNotValid(err), errors.IsNotSupported(err):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case cause == context.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
