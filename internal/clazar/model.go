package clazar

import (
	"encoding/json"
	"fmt"
)

// MeteringRecord is one dimension's usage for one contract over the
// metering window. Quantities are decimal-integer strings per the API
// contract.
type MeteringRecord struct {
	Cloud      string `json:"cloud"`
	ContractID string `json:"contract_id"`
	Dimension  string `json:"dimension"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Quantity   string `json:"quantity"`
}

// MeteringRequest is the submit-usage request body: all of one contract's
// records for the month.
type MeteringRequest struct {
	Request []MeteringRecord `json:"request"`
}

// MeteringResponse is the submit-usage response: one result per record.
type MeteringResponse struct {
	Results []Result `json:"results"`
}

// Result is the per-record outcome. Errors is kept raw because the API
// returns either a list or a structured object depending on failure mode.
type Result struct {
	Status  string          `json:"status,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

// HasErrors reports whether the result carries error detail.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0 && string(r.Errors) != "null" && string(r.Errors) != "[]"
}

// ErrorStrings flattens the raw error detail into printable messages.
func (r Result) ErrorStrings() []string {
	if !r.HasErrors() {
		return nil
	}
	var items []any
	if err := json.Unmarshal(r.Errors, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return []string{string(r.Errors)}
}

// ResponseCheck summarizes a MeteringResponse: collected errors plus any
// non-success results that are warnings rather than failures.
type ResponseCheck struct {
	HasErrors bool
	Errors    []string
	Code      string
	Message   string
	Warnings  []Result
}

// Check scans the per-record results for errors and warnings. A result
// with error detail fails the submission; a non-success status without
// error detail is a warning only (typically an unregistered dimension).
func (m *MeteringResponse) Check() ResponseCheck {
	check := ResponseCheck{Code: "API_ERROR", Message: "Unknown error"}

	for _, result := range m.Results {
		if result.HasErrors() {
			check.HasErrors = true
			check.Errors = append(check.Errors, result.ErrorStrings()...)
			if result.Code != "" {
				check.Code = result.Code
			}
			if result.Message != "" {
				check.Message = result.Message
			}
		} else if result.Status != "" && result.Status != "success" {
			check.Warnings = append(check.Warnings, result)
		}
	}

	return check
}
