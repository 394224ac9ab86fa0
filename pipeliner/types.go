// Package pipeliner describes the inbound webhook payloads delivered
// by the Pipeliner CRM, together with the pure formatting functions
// that derive Asana project names, notes and colors from them.
//
// Pipeliner payloads are loosely specified: no field is guaranteed
// present and numeric fields are sometimes delivered as strings. The
// types here absorb that by unmarshalling tolerantly and leaving
// fallback handling to the formatter.
package pipeliner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is the envelope of an inbound webhook delivery. Entity and
// Action are free text matched case-insensitively by the dispatcher;
// Data is the entity-specific payload, decoded on demand.
type Event struct {
	Entity string          `json:"entity"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// PipelinerDate is a custom date type handling the date formats seen
// in Pipeliner payloads. Null, empty and absent values leave the zero
// time in place.
type PipelinerDate struct {
	time.Time
}

// dateFormats are tried in order when unmarshalling a PipelinerDate.
var dateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (pd *PipelinerDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	for _, f := range dateFormats {
		t, err := time.Parse(f, s)
		if err == nil {
			pd.Time = t
			return nil
		}
	}
	return fmt.Errorf("unparseable pipeliner date %q", s)
}

// FlexFloat is a float64 that also accepts quoted numbers, as
// delivered by some Pipeliner field types. Null and empty values
// decode to zero.
type FlexFloat float64

// UnmarshalJSON implements the json.Unmarshaler interface.
func (ff *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*ff = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("unparseable pipeliner number %q: %w", s, err)
	}
	*ff = FlexFloat(f)
	return nil
}

// Opportunity is a Pipeliner sales-pipeline record. Every field is
// optional; the formatter supplies fallbacks.
type Opportunity struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	AccountName string        `json:"account_name"`
	Value       FlexFloat     `json:"value"`
	Probability FlexFloat     `json:"probability"` // 0-100
	Stage       string        `json:"stage"`
	CloseDate   PipelinerDate `json:"close_date"`
	Owner       string        `json:"owner"`
	Description string        `json:"description"`

	// Domain-specific custom attributes.
	JobNumber     string `json:"job_number"`
	JobStatus     string `json:"job_status"`
	EquipmentType string `json:"equipment_type"`
	Facility      string `json:"facility"`
	IntranetURL   string `json:"intranet_url"`
}

// Activity is a Pipeliner record of a scheduled or logged interaction
// tied to an Opportunity.
type Activity struct {
	Subject       string        `json:"subject"`
	Description   string        `json:"description"`
	DueDate       PipelinerDate `json:"due_date"`
	OpportunityID string        `json:"opportunity_id"`
}

// DecodeOpportunity decodes the event data as an Opportunity. A
// missing data payload decodes to an empty Opportunity rather than
// failing, matching the relay's degrade-to-placeholder behaviour.
func (e *Event) DecodeOpportunity() (*Opportunity, error) {
	var o Opportunity
	if len(e.Data) == 0 {
		return &o, nil
	}
	if err := json.Unmarshal(e.Data, &o); err != nil {
		return nil, fmt.Errorf("could not decode opportunity data: %w", err)
	}
	return &o, nil
}

// DecodeActivity decodes the event data as an Activity.
func (e *Event) DecodeActivity() (*Activity, error) {
	var a Activity
	if len(e.Data) == 0 {
		return &a, nil
	}
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return nil, fmt.Errorf("could not decode activity data: %w", err)
	}
	return &a, nil
}
