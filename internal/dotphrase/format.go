package dotphrase

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueKind says how a resolved value is shaped.
type ValueKind string

const (
	KindText  ValueKind = "text"
	KindTable ValueKind = "table"
)

// ResolvedValue is the formatted result of one token. Plain is what gets
// substituted into text; Markdown is for callers rendering the expansion
// as its own block.
type ResolvedValue struct {
	Kind     ValueKind `json:"kind"`
	Markdown string    `json:"markdown"`
	Plain    string    `json:"plain"`
}

// Fallbacks for empty result sets. Callers rely on these exact strings to
// tell "found nothing" from "never ran".
const (
	NoneFound          = "None"
	NoLabsFound        = "No labs found"
	NoVitalsFound      = "No vitals found"
	NoOrdersFound      = "No orders found"
	NoAllergiesFound   = "No known allergies"
	noStartDateMessage = "No start date found for %s."
)

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(ISODate)
}

func textValue(s string) ResolvedValue {
	return ResolvedValue{Kind: KindText, Markdown: s, Plain: s}
}

// FormatScalar renders a demographic field.
func FormatScalar(s string) ResolvedValue {
	return textValue(strings.TrimSpace(s))
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func bulletList(lines []string, fallback string) ResolvedValue {
	if len(lines) == 0 {
		return textValue(fallback)
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(l)
	}
	return textValue(b.String())
}

// FormatMeds renders one bullet per medication: name, dose, route, frequency.
func FormatMeds(meds []MedicationRecord) ResolvedValue {
	lines := make([]string, 0, len(meds))
	for _, m := range meds {
		lines = append(lines, joinNonEmpty(" ", m.Name, m.Dose, m.Route, m.Frequency))
	}
	return bulletList(lines, NoneFound)
}

// FormatProblems renders one bullet per problem: name then status. Detailed
// mode appends the recorded date and comments.
func FormatProblems(problems []ProblemRecord, detailed bool) ResolvedValue {
	lines := make([]string, 0, len(problems))
	for _, p := range problems {
		status := p.Status
		if status == "" {
			status = "inactive"
			if p.Active {
				status = "active"
			}
		}
		line := p.Name + " (" + status + ")"
		if detailed {
			if d := formatDate(p.RecordedDate); d != "" {
				line += "; recorded " + d
			}
			if c := joinNonEmpty("; ", p.Comments...); c != "" {
				line += "; " + c
			}
		}
		lines = append(lines, line)
	}
	return bulletList(lines, NoneFound)
}

// FormatAllergies renders one bullet per allergy: substance, criticality,
// reaction.
func FormatAllergies(allergies []AllergyRecord) ResolvedValue {
	lines := make([]string, 0, len(allergies))
	for _, a := range allergies {
		line := a.Substance
		if a.Criticality != "" {
			line += " (" + a.Criticality + ")"
		}
		if a.Reaction != "" {
			line += ": " + a.Reaction
		}
		lines = append(lines, line)
	}
	return bulletList(lines, NoAllergiesFound)
}

// FormatOrders renders one bullet per order: date, type, name, status.
func FormatOrders(orders []OrderRecord) ResolvedValue {
	lines := make([]string, 0, len(orders))
	for _, o := range orders {
		line := joinNonEmpty(" ", formatDate(o.Date), bracket(o.Type), o.Name)
		if o.Status != "" {
			line += " (" + o.Status + ")"
		}
		lines = append(lines, line)
	}
	return bulletList(lines, NoOrdersFound)
}

func bracket(s string) string {
	if s == "" {
		return ""
	}
	return "[" + s + "]"
}

// cell makes s safe inside a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

func table(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)))
	for _, r := range rows {
		for i := range r {
			r[i] = cell(r[i])
		}
		b.WriteString("\n| " + strings.Join(r, " | ") + " |")
	}
	return b.String()
}

func tableValue(s string) ResolvedValue {
	return ResolvedValue{Kind: KindTable, Markdown: s, Plain: s}
}

// FormatLabs renders a markdown table, newest result first.
func FormatLabs(labs []LabRecord) ResolvedValue {
	if len(labs) == 0 {
		return textValue(NoLabsFound)
	}
	sorted := append([]LabRecord(nil), labs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })

	rows := make([][]string, 0, len(sorted))
	for _, l := range sorted {
		rows = append(rows, []string{
			formatDate(l.Date), l.Test, l.Value, l.Unit, l.ReferenceRange, l.Interpretation,
		})
	}
	return tableValue(table([]string{"Date", "Test", "Result", "Unit", "Reference", "Flag"}, rows))
}

type vitalRow struct {
	at    time.Time
	order int
	cols  []string
}

// FormatVitals renders every reading in one table, newest first; readings
// taken at the same time keep VitalTypes order.
func FormatVitals(bundle VitalsBundle) ResolvedValue {
	var rows []vitalRow
	for order, vt := range VitalTypes {
		for _, r := range bundle[vt] {
			value := r.Value
			if vt == VitalBloodPressure && (r.Systolic != "" || r.Diastolic != "") {
				value = r.Systolic + "/" + r.Diastolic
			}
			rows = append(rows, vitalRow{
				at:    r.EffectiveDateTime,
				order: order,
				cols:  []string{formatDate(r.EffectiveDateTime), vitalLabel(vt), value, r.Unit},
			})
		}
	}
	if len(rows) == 0 {
		return textValue(NoVitalsFound)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.After(rows[j].at)
		}
		return rows[i].order < rows[j].order
	})

	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.cols
	}
	return tableValue(table([]string{"Date", "Vital", "Value", "Unit"}, out))
}

var vitalLabels = map[VitalType]string{
	VitalBloodPressure:    "Blood pressure",
	VitalHeartRate:        "Heart rate",
	VitalTemperature:      "Temperature",
	VitalRespiratoryRate:  "Respiratory rate",
	VitalOxygenSaturation: "SpO2",
	VitalWeight:           "Weight",
	VitalHeight:           "Height",
	VitalBMI:              "BMI",
}

func vitalLabel(vt VitalType) string {
	if l, ok := vitalLabels[vt]; ok {
		return l
	}
	return string(vt)
}

// FormatMedStarted renders the answer to ".medstarted/<name>".
func FormatMedStarted(query string, med *MedicationRecord, started time.Time) ResolvedValue {
	if med == nil || started.IsZero() {
		return textValue(fmt.Sprintf(noStartDateMessage, query))
	}
	return textValue(med.Name + " started " + formatDate(started))
}
