package chartapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/ehr/scribe/internal/dotphrase"
)

// record is one loosely shaped JSON object from the backend. Backends
// disagree on field names, so each adapter below lists the alternatives it
// accepts in priority order.
type record map[string]json.RawMessage

func (r record) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

// str returns the first present key as a string. Numbers and booleans are
// rendered as their JSON text.
func (r record) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r.raw(k)
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		if v[0] != '{' && v[0] != '[' {
			return string(v)
		}
	}
	return ""
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", dotphrase.ISODate, "01/02/2006"}

func (r record) time(keys ...string) time.Time {
	for _, k := range keys {
		s := r.str(k)
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				if t.IsZero() {
					return time.Time{}
				}
				return t
			}
		}
	}
	return time.Time{}
}

func (r record) boolean(keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := r.raw(k)
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			return b, true
		}
	}
	return false, false
}

// strs accepts either a list of strings or a single string.
func (r record) strs(keys ...string) []string {
	for _, k := range keys {
		v, ok := r.raw(k)
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			return list
		}
		if s := r.str(k); s != "" {
			return []string{s}
		}
	}
	return nil
}

func adaptDemographics(r record) *dotphrase.Demographics {
	name := r.str("name", "fullName", "full_name", "displayName")
	if name == "" {
		name = strings.TrimSpace(r.str("firstName", "first_name", "given") + " " + r.str("lastName", "last_name", "family"))
	}
	return &dotphrase.Demographics{
		Name:      name,
		BirthDate: r.time("dob", "birthDate", "birth_date", "dateOfBirth"),
		Phone:     r.str("phone", "phoneNumber", "phone_number", "telecom"),
		Sex:       r.str("sex", "gender"),
		MRN:       r.str("mrn", "MRN", "medicalRecordNumber", "medical_record_number"),
	}
}

func adaptMedication(r record) dotphrase.MedicationRecord {
	return dotphrase.MedicationRecord{
		Name:        r.str("name", "medication", "drugName", "display", "description", "code_display"),
		Dose:        r.str("dose", "dosage", "strength"),
		Route:       r.str("route"),
		Frequency:   r.str("frequency", "sig", "schedule"),
		Status:      r.str("status", "medicationStatus"),
		StartDate:   r.time("startDate", "start_date", "start"),
		WrittenDate: r.time("writtenDate", "written_date", "authoredOn", "authored_on"),
		OrderedDate: r.time("orderedDate", "ordered_date", "orderDate", "ordered_at"),
		FirstFill:   r.time("firstFill", "first_fill", "firstFillDate"),
		LastFill:    r.time("lastFill", "last_fill", "lastFillDate"),
	}
}

func adaptProblem(r record) dotphrase.ProblemRecord {
	p := dotphrase.ProblemRecord{
		Name:         r.str("name", "problem", "description", "display", "code_display"),
		Status:       r.str("status", "clinicalStatus", "clinical_status"),
		RecordedDate: r.time("recordedDate", "recorded_date", "onsetDate", "onset"),
		Comments:     r.strs("comments", "notes", "note"),
	}
	if active, ok := r.boolean("active", "isActive"); ok {
		p.Active = active
	} else {
		p.Active = strings.EqualFold(p.Status, "active")
	}
	return p
}

func adaptAllergy(r record) dotphrase.AllergyRecord {
	return dotphrase.AllergyRecord{
		Substance:   r.str("substance", "allergen", "name", "display", "code_display"),
		Criticality: r.str("criticality", "severity"),
		Reaction:    strings.Join(r.strs("reaction", "reactions", "manifestation"), ", "),
		Status:      r.str("status", "clinicalStatus", "clinical_status"),
	}
}

func adaptLab(r record) dotphrase.LabRecord {
	l := dotphrase.LabRecord{
		Test:           r.str("test", "name", "testName", "display", "code_display"),
		LOINC:          r.str("loinc", "LOINC", "loincCode", "code_value"),
		Value:          r.str("result", "value", "valueString", "value_quantity"),
		Unit:           r.str("unit", "units", "value_unit"),
		ReferenceRange: r.str("referenceRange", "reference_range", "refRange", "range"),
		Interpretation: r.str("interpretation", "flag"),
		Date:           r.time("resulted", "collected", "date", "effectiveDateTime", "effective_date"),
		Specimen:       r.str("specimen"),
	}
	if l.Interpretation == "" {
		if abnormal, ok := r.boolean("abnormal"); ok && abnormal {
			l.Interpretation = "abnormal"
		} else {
			l.Interpretation = r.str("abnormal")
		}
	}
	return l
}

func adaptOrder(r record) dotphrase.OrderRecord {
	return dotphrase.OrderRecord{
		Date:   r.time("date", "orderDate", "ordered", "authoredOn", "authored_on"),
		Type:   r.str("type", "orderType", "category"),
		Name:   r.str("name", "description", "display", "code_display"),
		Status: r.str("current_status", "currentStatus", "status"),
	}
}

func adaptVitalReading(r record) dotphrase.VitalReading {
	return dotphrase.VitalReading{
		EffectiveDateTime: r.time("effectiveDateTime", "effective_date", "date", "recorded"),
		Value:             r.str("value", "value_quantity", "result"),
		Systolic:          r.str("systolic"),
		Diastolic:         r.str("diastolic"),
		Unit:              r.str("unit", "units", "value_unit"),
	}
}

// vitalAliases maps snake_case and short keys onto the canonical types.
var vitalAliases = map[string]dotphrase.VitalType{
	"blood_pressure":    dotphrase.VitalBloodPressure,
	"bp":                dotphrase.VitalBloodPressure,
	"heart_rate":        dotphrase.VitalHeartRate,
	"pulse":             dotphrase.VitalHeartRate,
	"respiratory_rate":  dotphrase.VitalRespiratoryRate,
	"oxygen_saturation": dotphrase.VitalOxygenSaturation,
	"spo2":              dotphrase.VitalOxygenSaturation,
}

func adaptVitals(raw map[string]json.RawMessage) (dotphrase.VitalsBundle, error) {
	if inner, ok := raw["vitals"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err != nil {
			return nil, dotphrase.ErrUnrecognizedShape
		}
		raw = nested
	}
	known := map[dotphrase.VitalType]bool{}
	for _, vt := range dotphrase.VitalTypes {
		known[vt] = true
	}

	bundle := dotphrase.VitalsBundle{}
	for key, v := range raw {
		vt := dotphrase.VitalType(key)
		if alias, ok := vitalAliases[strings.ToLower(key)]; ok {
			vt = alias
		}
		if !known[vt] {
			continue
		}
		var list []record
		if err := json.Unmarshal(v, &list); err != nil {
			continue
		}
		for _, r := range list {
			bundle[vt] = append(bundle[vt], adaptVitalReading(r))
		}
	}
	return bundle, nil
}
