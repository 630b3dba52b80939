package dotphrase

import (
	"strings"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(ISODate, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFormat_EmptyFallbacks(t *testing.T) {
	tests := []struct {
		name string
		got  ResolvedValue
		want string
	}{
		{"meds", FormatMeds(nil), NoneFound},
		{"problems", FormatProblems(nil, false), NoneFound},
		{"allergies", FormatAllergies(nil), NoAllergiesFound},
		{"orders", FormatOrders(nil), NoOrdersFound},
		{"labs", FormatLabs(nil), NoLabsFound},
		{"vitals", FormatVitals(VitalsBundle{}), NoVitalsFound},
	}
	for _, tt := range tests {
		if tt.got.Plain != tt.want {
			t.Errorf("%s: expected fallback %q, got %q", tt.name, tt.want, tt.got.Plain)
		}
		if tt.got.Kind != KindText {
			t.Errorf("%s: expected text kind, got %q", tt.name, tt.got.Kind)
		}
	}
}

func TestFormatMeds(t *testing.T) {
	v := FormatMeds([]MedicationRecord{
		{Name: "Metformin", Dose: "500 mg", Route: "PO", Frequency: "BID"},
		{Name: "Lisinopril", Dose: "10 mg"},
	})
	want := "- Metformin 500 mg PO BID\n- Lisinopril 10 mg"
	if v.Plain != want {
		t.Errorf("expected %q, got %q", want, v.Plain)
	}
}

func TestFormatProblems(t *testing.T) {
	problems := []ProblemRecord{
		{Name: "Type 2 diabetes", Active: true, RecordedDate: day("2020-05-01"), Comments: []string{"diet controlled"}},
		{Name: "Asthma", Status: "resolved"},
	}
	if got := FormatProblems(problems, false).Plain; got != "- Type 2 diabetes (active)\n- Asthma (resolved)" {
		t.Errorf("unexpected summary: %q", got)
	}
	got := FormatProblems(problems, true).Plain
	if !strings.Contains(got, "Type 2 diabetes (active); recorded 2020-05-01; diet controlled") {
		t.Errorf("unexpected detailed: %q", got)
	}
}

func TestFormatOrders(t *testing.T) {
	v := FormatOrders([]OrderRecord{{Date: day("2024-07-10"), Type: "lab", Name: "CBC", Status: "active"}})
	if v.Plain != "- 2024-07-10 [lab] CBC (active)" {
		t.Errorf("unexpected order line: %q", v.Plain)
	}
}

func TestFormatLabs_SortedNewestFirst(t *testing.T) {
	v := FormatLabs([]LabRecord{
		{Test: "A1c", Value: "7.2", Unit: "%", Date: day("2024-01-01")},
		{Test: "A1c", Value: "6.8", Unit: "%", Date: day("2024-06-01")},
		{Test: "LDL", Value: "pending|review", Date: day("2024-03-01")},
	})
	if v.Kind != KindTable {
		t.Fatalf("expected table kind, got %q", v.Kind)
	}
	lines := strings.Split(v.Plain, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header, divider and 3 rows, got %d lines:\n%s", len(lines), v.Plain)
	}
	if lines[0] != "| Date | Test | Result | Unit | Reference | Flag |" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "| 2024-06-01 | A1c | 6.8 |") {
		t.Errorf("expected newest first, got %q", lines[2])
	}
	if !strings.Contains(lines[3], `pending\|review`) {
		t.Errorf("expected escaped pipe and raw non-numeric value, got %q", lines[3])
	}
	if !strings.HasPrefix(lines[4], "| 2024-01-01 |") {
		t.Errorf("expected oldest last, got %q", lines[4])
	}
}

func TestFormatVitals(t *testing.T) {
	at := day("2024-07-01")
	v := FormatVitals(VitalsBundle{
		VitalHeartRate:     {{EffectiveDateTime: at, Value: "72", Unit: "bpm"}},
		VitalBloodPressure: {{EffectiveDateTime: at, Systolic: "120", Diastolic: "80", Unit: "mmHg"}},
		VitalWeight:        {{EffectiveDateTime: day("2024-06-01"), Value: "80", Unit: "kg"}},
	})
	lines := strings.Split(v.Plain, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), v.Plain)
	}
	if lines[2] != "| 2024-07-01 | Blood pressure | 120/80 | mmHg |" {
		t.Errorf("unexpected first row: %q", lines[2])
	}
	if lines[3] != "| 2024-07-01 | Heart rate | 72 | bpm |" {
		t.Errorf("unexpected second row: %q", lines[3])
	}
	if !strings.HasPrefix(lines[4], "| 2024-06-01 | Weight") {
		t.Errorf("unexpected last row: %q", lines[4])
	}
}

func TestFormatMedStarted(t *testing.T) {
	med := &MedicationRecord{Name: "Metformin 500 mg"}
	if got := FormatMedStarted("metformin", med, day("2019-03-02")).Plain; got != "Metformin 500 mg started 2019-03-02" {
		t.Errorf("unexpected: %q", got)
	}
	if got := FormatMedStarted("warfarin", nil, time.Time{}).Plain; got != "No start date found for warfarin." {
		t.Errorf("unexpected: %q", got)
	}
}
