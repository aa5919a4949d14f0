package queue

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/oklog/ulid/v2"

	"kitchen-print/internal/label"
)

type Kind string

const (
	KindLabel  Kind = "label"  // bitmap label: product name and dates
	KindText   Kind = "text"   // heuristic text label
	KindParsed Kind = "parsed" // backend record built into a text label
)

// Job is one queued print request. Only the fields of its Kind are set.
type Job struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	Product   string        `json:"product_name,omitempty"`
	StartDate time.Time     `json:"start_date,omitempty"`
	EndDate   time.Time     `json:"end_date,omitempty"`
	Text      string        `json:"text,omitempty"`
	Parsed    *label.Parsed `json:"parsed,omitempty"`
}

func (j Job) MarshalBinary() ([]byte, error) {
	b, err := json.Marshal(j)
	return b, errors.Trace(err)
}

func (j *Job) UnmarshalBinary(b []byte) error {
	return errors.Trace(json.Unmarshal(b, j))
}

// Validate checks the fields required by the job kind
func (j Job) Validate() error {
	switch j.Kind {
	case KindLabel:
		if j.Product == "" {
			return errors.NotValidf("label job without product name")
		}
	case KindText:
		if j.Text == "" {
			return errors.NotValidf("text job without text")
		}
	case KindParsed:
		if j.Parsed == nil {
			return errors.NotValidf("parsed job without record")
		}
	default:
		return errors.NotValidf("job kind %q", j.Kind)
	}
	return nil
}

// Content returns the bitmap label of a label job
func (j Job) Content() label.Content {
	return label.Content{
		ProductName: j.Product,
		StartDate:   j.StartDate,
		EndDate:     j.EndDate,
		Text:        j.Text,
	}
}

func newID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
