package pipeliner

// format.go derives Asana-facing display strings from raw opportunity
// fields. All functions here are pure; the caller supplies the sync
// timestamp and fallback literal so output is deterministic.

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Asana project colors used by ProjectColor. The value thresholds are
// a visible contract relied on by the sales team's board views.
const (
	ColorDarkRed     = "dark-red"
	ColorDarkOrange  = "dark-orange"
	ColorLightOrange = "light-orange"
	ColorLightGreen  = "light-green"
	ColorNone        = "none"
)

// fallbackProjectName is used when an opportunity carries no name
// parts at all.
const fallbackProjectName = "New Opportunity"

// ProjectName composes a project display name from, in order: an
// optional job-number bracket, the account name, the opportunity name
// and the opportunity value in parentheses when greater than zero.
// Parts are joined with " - ". If every part is absent the constant
// fallback name is returned.
func ProjectName(o *Opportunity) string {
	var parts []string
	if o.JobNumber != "" {
		parts = append(parts, fmt.Sprintf("[%s]", o.JobNumber))
	}
	if o.AccountName != "" {
		parts = append(parts, o.AccountName)
	}
	if o.Name != "" {
		parts = append(parts, o.Name)
	}
	if o.Value > 0 {
		parts = append(parts, fmt.Sprintf("($%s)", FormatNumber(float64(o.Value))))
	}
	if len(parts) == 0 {
		return fallbackProjectName
	}
	return strings.Join(parts, " - ")
}

// ProjectColor selects a color for the project from the opportunity
// value. The bucket boundaries use strict comparisons: a value of
// exactly 100000 is dark-orange, not dark-red.
func ProjectColor(value float64) string {
	switch {
	case value > 100000:
		return ColorDarkRed
	case value > 50000:
		return ColorDarkOrange
	case value > 25000:
		return ColorLightOrange
	case value > 0:
		return ColorLightGreen
	default:
		return ColorNone
	}
}

// ProjectNotes renders the labeled plain-text notes block for a
// project. Every label is always present; absent text fields show the
// fallback literal, and derived figures are computed from whatever
// values are available. The syncedAt time is rendered in ISO-8601.
func ProjectNotes(o *Opportunity, fallback string, syncedAt time.Time) string {
	orFallback := func(s string) string {
		if s == "" {
			return fallback
		}
		return s
	}

	closeDate := fallback
	if !o.CloseDate.IsZero() {
		closeDate = o.CloseDate.Format("2006-01-02")
	}

	value := float64(o.Value)
	probability := float64(o.Probability)
	expectedRevenue := value * probability / 100

	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}

	line("Pipeliner ID", orFallback(o.ID))
	line("Job Number", orFallback(o.JobNumber))
	line("Job Status", orFallback(o.JobStatus))
	line("Account", orFallback(o.AccountName))
	line("Value", "$"+FormatNumber(value))
	line("Probability", fmt.Sprintf("%s%%", FormatNumber(probability)))
	line("Expected Revenue", "$"+FormatNumber(expectedRevenue))
	line("Stage", orFallback(o.Stage))
	line("Close Date", closeDate)
	line("Owner", orFallback(o.Owner))
	line("Equipment Type", orFallback(o.EquipmentType))
	line("Facility", orFallback(o.Facility))
	line("Description", orFallback(o.Description))
	line("Intranet", orFallback(o.IntranetURL))
	line("Synced", syncedAt.Format(time.RFC3339))

	return b.String()
}

// TaskNotes renders the notes for a task created from an activity.
func TaskNotes(a *Activity, fallback string, syncedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Description: %s\n", stringOr(a.Description, fallback))
	fmt.Fprintf(&b, "Pipeliner Opportunity: %s\n", stringOr(a.OpportunityID, fallback))
	fmt.Fprintf(&b, "Synced: %s\n", syncedAt.Format(time.RFC3339))
	return b.String()
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// FormatNumber renders a number with thousands separators grouped by
// three digits from the right. Fractional digits are passed through
// ungrouped after the decimal point; negative numbers keep their sign.
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, ",")
	if hasFrac {
		out += "." + fracPart
	}
	if negative {
		out = "-" + out
	}
	return out
}
