package label

import (
	"fmt"
	"strings"
)

// Parsed is the structured label record produced by the kitchen backend
type Parsed struct {
	BatchNo         string   `json:"batch_no"`
	Dates           []string `json:"dates"`
	EmployeeName    string   `json:"employee_name"`
	ExpiryDay       string   `json:"expiry_day"`
	LabelType       string   `json:"label_type"`
	ProductName     string   `json:"product_name" binding:"required"`
	RTEStatus       *string  `json:"rte_status,omitempty"`
	DefrostDate     *string  `json:"defrost_date,omitempty"`
	ReadyToPrepDate *string  `json:"ready_to_prep_date,omitempty"`
	UseByDate       *string  `json:"use_by_date,omitempty"`
}

// Response wraps a parsed label as the backend delivers it
type Response struct {
	LabelID    string `json:"label_id"`
	ParsedData Parsed `json:"parsed_data" binding:"required"`
	RawText    string `json:"raw_text"`
	UniqueKey  string `json:"uniqueKey,omitempty"`
}

const closingRule = "====================="

// BuildContent lays out a parsed label as text. Missing dates print N/A.
func BuildContent(p Parsed) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("=== %s ===", p.ProductName)
	line("Batch: %s", p.BatchNo)
	line("Prepped: %s", dateAt(p.Dates, 0))
	line("Use By: %s", dateAt(p.Dates, 1))
	line("Employee: %s", p.EmployeeName)
	if p.DefrostDate != nil {
		line("Defrosted: %s", *p.DefrostDate)
	}
	if p.ReadyToPrepDate != nil {
		line("Ready to Prep: %s", *p.ReadyToPrepDate)
	}
	line("Type: %s", p.LabelType)
	if p.RTEStatus != nil {
		line("RTE Status: %s", *p.RTEStatus)
	}
	line(closingRule)
	return b.String()
}

func dateAt(dates []string, i int) string {
	if i < len(dates) && dates[i] != "" {
		return dates[i]
	}
	return "N/A"
}
