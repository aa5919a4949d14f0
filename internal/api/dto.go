package api

import (
	"bytes"
	"encoding/base64"
	"image"
	"strings"
	"time"

	"github.com/juju/errors"

	"kitchen-print/internal/imaging"
	"kitchen-print/internal/label"
	"kitchen-print/internal/settings"
)

// ===== Requests =====

// RequestSettings are per request overrides sent by the kitchen backend.
// They are saved to the current profile before printing.
type RequestSettings struct {
	LinesPerFeed *int    `json:"linesPerFeed,omitempty"`
	Alignment    *string `json:"alignment,omitempty"`
}

func (r *RequestSettings) apply(s *settings.PrinterSettings) {
	if r.LinesPerFeed != nil {
		s.LinesPerFeed = *r.LinesPerFeed
	}
	if r.Alignment != nil {
		s.Alignment = settings.ParseAlignment(*r.Alignment)
	}
}

// PrintLabelRequest: /print-label and /preview. Either LabelData or
// ProductName must be set.
type PrintLabelRequest struct {
	LabelData   *label.Parsed    `json:"label_data,omitempty"`
	ProductName string           `json:"product_name,omitempty"`
	StartDate   string           `json:"start_date,omitempty"` // dd/MM/yyyy
	EndDate     string           `json:"end_date,omitempty"`
	Text        string           `json:"text,omitempty"`
	Image       string           `json:"image,omitempty"` // base64 PNG, JPEG, GIF, BMP or WebP
	Settings    *RequestSettings `json:"settings,omitempty"`
}

// Content builds the bitmap label of a product request
func (r PrintLabelRequest) Content() (label.Content, error) {
	if r.ProductName == "" {
		return label.Content{}, errors.NotValidf("missing product_name")
	}
	start, err := parseDate(r.StartDate, time.Now())
	if err != nil {
		return label.Content{}, err
	}
	end, err := parseDate(r.EndDate, start)
	if err != nil {
		return label.Content{}, err
	}
	c := label.Content{ProductName: r.ProductName, StartDate: start, EndDate: end, Text: r.Text}
	if r.Image != "" {
		if c.Image, err = decodeImage(r.Image); err != nil {
			return label.Content{}, err
		}
	}
	return c, nil
}

// PrintTextRequest: /print-text
type PrintTextRequest struct {
	Text     string           `json:"text" binding:"required"`
	Settings *RequestSettings `json:"settings,omitempty"`
}

// FeedRequest: /feed. Zero lines uses the configured lines per feed.
type FeedRequest struct {
	Lines float64 `json:"lines"`
}

// QRCodeRequest: /qrcode
type QRCodeRequest struct {
	Data string `json:"data" binding:"required"`
	Size int    `json:"size"`
}

// BarCodeRequest: /barcode
type BarCodeRequest struct {
	Data string `json:"data" binding:"required"`
}

// ===== Responses =====

type PrintResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type StatusResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Transport string `json:"transport"`
	Dialect   string `json:"dialect"`
	Profile   string `json:"profile"`
}

type ProfilesResponse struct {
	Current  string   `json:"current"`
	Profiles []string `json:"profiles"`
}

// ===== helpers =====

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	for _, layout := range []string{label.DateLayout, "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NotValidf("date %q", s)
}

func decodeImage(s string) (image.Image, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.NewNotValid(err, "image is not base64")
	}
	img, err := imaging.DecodeImage(bytes.NewReader(b))
	if err != nil {
		return nil, errors.NewNotValid(err, "image")
	}
	return img, nil
}
