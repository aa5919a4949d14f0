package settings

import (
	"strings"

	"github.com/juju/errors"
)

// Alignment of printed text
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// ParseAlignment accepts a name or the numeric value; anything else is center
func ParseAlignment(s string) Alignment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "0":
		return AlignLeft
	case "right", "2":
		return AlignRight
	default:
		return AlignCenter
	}
}

// Valid reports whether a is one of the three alignments
func (a Alignment) Valid() bool { return a >= AlignLeft && a <= AlignRight }

// Normalize maps unknown values to center
func (a Alignment) Normalize() Alignment {
	if !a.Valid() {
		return AlignCenter
	}
	return a
}

func (a Alignment) String() string {
	switch a {
	case AlignLeft:
		return "left"
	case AlignRight:
		return "right"
	default:
		return "center"
	}
}

func (a Alignment) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Alignment) UnmarshalText(b []byte) error {
	*a = ParseAlignment(string(b))
	return nil
}

var (
	FontNames     = []string{"Default", "Monospace", "Sans Serif", "Serif"}
	PrintModes    = []string{"Standard", "Bold", "Compressed"}
	TextPositions = []string{"Top", "Bottom", "Left", "Right"}
	Orientations  = []string{"horizontal", "vertical"}
)

const DefaultProfile = "Default"

// CustomText is an extra line printed on every label
type CustomText struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	Position string  `yaml:"position" json:"position"`
	Size     float64 `yaml:"size" json:"size"`
	Content  string  `yaml:"content" json:"content"`
}

// PrinterSettings holds the tunables applied to every print
type PrinterSettings struct {
	FontSize        float64    `yaml:"font_size" json:"font_size"`
	FontName        string     `yaml:"font_name" json:"font_name"`
	LabelWidth      int        `yaml:"label_width" json:"label_width"`
	LabelHeight     int        `yaml:"label_height" json:"label_height"`
	Alignment       Alignment  `yaml:"alignment" json:"alignment"`
	LinesPerFeed    int        `yaml:"lines_per_feed" json:"lines_per_feed"`
	CurrentProfile  string     `yaml:"current_profile" json:"current_profile"`
	Density         int        `yaml:"density" json:"density"`
	Speed           int        `yaml:"speed" json:"speed"`
	PrintMode       string     `yaml:"print_mode" json:"print_mode"`
	CustomText      CustomText `yaml:"custom_text" json:"custom_text"`
	ProductNameSize float64    `yaml:"product_name_size" json:"product_name_size"`
	DateSize        float64    `yaml:"date_size" json:"date_size"`
	PaperOffset     int        `yaml:"paper_offset" json:"paper_offset"`
	Orientation     string     `yaml:"orientation" json:"orientation"`
}

// Defaults returns factory settings
func Defaults() PrinterSettings {
	return PrinterSettings{
		FontSize:       12,
		FontName:       "Default",
		LabelWidth:     40,
		LabelHeight:    30,
		Alignment:      AlignLeft,
		LinesPerFeed:   3,
		CurrentProfile: DefaultProfile,
		Density:        50,
		Speed:          2,
		PrintMode:      "Standard",
		CustomText: CustomText{
			Position: "Bottom",
			Size:     12,
		},
		ProductNameSize: 24,
		DateSize:        18,
		Orientation:     "horizontal",
	}
}

// Normalize replaces out-of-range values with defaults
func (s *PrinterSettings) Normalize() {
	d := Defaults()
	if s.FontSize <= 0 {
		s.FontSize = d.FontSize
	}
	if !oneOf(s.FontName, FontNames) {
		s.FontName = d.FontName
	}
	if s.LabelWidth <= 0 {
		s.LabelWidth = d.LabelWidth
	}
	if s.LabelHeight <= 0 {
		s.LabelHeight = d.LabelHeight
	}
	s.Alignment = s.Alignment.Normalize()
	if s.LinesPerFeed < 1 {
		s.LinesPerFeed = 1
	}
	if s.CurrentProfile == "" {
		s.CurrentProfile = DefaultProfile
	}
	s.Density = clamp(s.Density, 0, 100)
	if s.Speed < 1 {
		s.Speed = d.Speed
	}
	if !oneOf(s.PrintMode, PrintModes) {
		s.PrintMode = d.PrintMode
	}
	if !oneOf(s.CustomText.Position, TextPositions) {
		s.CustomText.Position = d.CustomText.Position
	}
	if s.CustomText.Size <= 0 {
		s.CustomText.Size = d.CustomText.Size
	}
	if s.ProductNameSize <= 0 {
		s.ProductNameSize = d.ProductNameSize
	}
	if s.DateSize <= 0 {
		s.DateSize = d.DateSize
	}
	if s.PaperOffset < 0 {
		s.PaperOffset = 0
	}
	if !oneOf(s.Orientation, Orientations) {
		s.Orientation = d.Orientation
	}
}

// Validate rejects values Normalize would silently change
func (s PrinterSettings) Validate() error {
	if s.FontSize <= 0 {
		return errors.NotValidf("font size %v", s.FontSize)
	}
	if s.LabelWidth <= 0 || s.LabelHeight <= 0 {
		return errors.NotValidf("label size %dx%d", s.LabelWidth, s.LabelHeight)
	}
	if s.LinesPerFeed < 1 {
		return errors.NotValidf("lines per feed %d", s.LinesPerFeed)
	}
	if s.Density < 0 || s.Density > 100 {
		return errors.NotValidf("density %d", s.Density)
	}
	if s.PrintMode != "" && !oneOf(s.PrintMode, PrintModes) {
		return errors.NotValidf("print mode %q", s.PrintMode)
	}
	return nil
}

func oneOf(v string, list []string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
