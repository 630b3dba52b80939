package chart

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/scribe/internal/dotphrase"
)

// Patient is the demographics row of the chart read model.
type Patient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	FHIRID    string     `db:"fhir_id" json:"fhir_id"`
	MRN       string     `db:"mrn" json:"mrn"`
	FirstName string     `db:"first_name" json:"first_name"`
	LastName  string     `db:"last_name" json:"last_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender    *string    `db:"gender" json:"gender,omitempty"`
	Phone     *string    `db:"phone" json:"phone,omitempty"`
}

func (p *Patient) ToDemographics() *dotphrase.Demographics {
	d := &dotphrase.Demographics{
		Name: strings.TrimSpace(p.FirstName + " " + p.LastName),
		MRN:  p.MRN,
	}
	if p.BirthDate != nil {
		d.BirthDate = *p.BirthDate
	}
	if p.Gender != nil {
		d.Sex = *p.Gender
	}
	if p.Phone != nil {
		d.Phone = *p.Phone
	}
	return d
}

// MedicationRequest is one prescription with the dates used to answer
// "when was this started".
type MedicationRequest struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	CodeDisplay string     `db:"code_display" json:"code_display"`
	Dose        *string    `db:"dose" json:"dose,omitempty"`
	Route       *string    `db:"route" json:"route,omitempty"`
	Frequency   *string    `db:"frequency" json:"frequency,omitempty"`
	Status      string     `db:"status" json:"status"`
	StartDate   *time.Time `db:"start_date" json:"start_date,omitempty"`
	AuthoredOn  *time.Time `db:"authored_on" json:"authored_on,omitempty"`
	OrderedAt   *time.Time `db:"ordered_at" json:"ordered_at,omitempty"`
	FirstFill   *time.Time `db:"first_fill" json:"first_fill,omitempty"`
	LastFill    *time.Time `db:"last_fill" json:"last_fill,omitempty"`
}

func (m *MedicationRequest) ToRecord() dotphrase.MedicationRecord {
	return dotphrase.MedicationRecord{
		Name:        m.CodeDisplay,
		Dose:        deref(m.Dose),
		Route:       deref(m.Route),
		Frequency:   deref(m.Frequency),
		Status:      m.Status,
		StartDate:   derefTime(m.StartDate),
		WrittenDate: derefTime(m.AuthoredOn),
		OrderedDate: derefTime(m.OrderedAt),
		FirstFill:   derefTime(m.FirstFill),
		LastFill:    derefTime(m.LastFill),
	}
}

// Condition is a problem-list entry.
type Condition struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	CodeDisplay    string     `db:"code_display" json:"code_display"`
	ClinicalStatus string     `db:"clinical_status" json:"clinical_status"`
	RecordedDate   *time.Time `db:"recorded_date" json:"recorded_date,omitempty"`
	Note           *string    `db:"note" json:"note,omitempty"`
}

var activeClinicalStatuses = map[string]bool{
	"active": true, "recurrence": true, "relapse": true,
}

func (c *Condition) ToRecord() dotphrase.ProblemRecord {
	r := dotphrase.ProblemRecord{
		Name:         c.CodeDisplay,
		Active:       activeClinicalStatuses[c.ClinicalStatus],
		Status:       c.ClinicalStatus,
		RecordedDate: derefTime(c.RecordedDate),
	}
	if c.Note != nil && *c.Note != "" {
		r.Comments = []string{*c.Note}
	}
	return r
}

type AllergyIntolerance struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	CodeDisplay    string    `db:"code_display" json:"code_display"`
	Criticality    *string   `db:"criticality" json:"criticality,omitempty"`
	Reaction       *string   `db:"reaction" json:"reaction,omitempty"`
	ClinicalStatus string    `db:"clinical_status" json:"clinical_status"`
}

func (a *AllergyIntolerance) ToRecord() dotphrase.AllergyRecord {
	return dotphrase.AllergyRecord{
		Substance:   a.CodeDisplay,
		Criticality: deref(a.Criticality),
		Reaction:    deref(a.Reaction),
		Status:      a.ClinicalStatus,
	}
}

const (
	CategoryVitalSigns = "vital-signs"
	CategoryLaboratory = "laboratory"
)

// Observation holds both vitals and lab results. Blood pressure keeps its
// two components in Systolic/Diastolic.
type Observation struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	Category       string    `db:"category" json:"category"`
	CodeValue      string    `db:"code_value" json:"code_value"`
	CodeDisplay    string    `db:"code_display" json:"code_display"`
	ValueQuantity  *float64  `db:"value_quantity" json:"value_quantity,omitempty"`
	ValueString    *string   `db:"value_string" json:"value_string,omitempty"`
	Unit           *string   `db:"value_unit" json:"value_unit,omitempty"`
	Systolic       *float64  `db:"systolic" json:"systolic,omitempty"`
	Diastolic      *float64  `db:"diastolic" json:"diastolic,omitempty"`
	ReferenceRange *string   `db:"reference_range" json:"reference_range,omitempty"`
	Interpretation *string   `db:"interpretation" json:"interpretation,omitempty"`
	Specimen       *string   `db:"specimen" json:"specimen,omitempty"`
	EffectiveDate  time.Time `db:"effective_date" json:"effective_date"`
}

func (o *Observation) value() string {
	if o.ValueQuantity != nil {
		return formatQuantity(*o.ValueQuantity)
	}
	return deref(o.ValueString)
}

func (o *Observation) ToLabRecord() dotphrase.LabRecord {
	return dotphrase.LabRecord{
		Test:           o.CodeDisplay,
		LOINC:          o.CodeValue,
		Value:          o.value(),
		Unit:           deref(o.Unit),
		ReferenceRange: deref(o.ReferenceRange),
		Interpretation: deref(o.Interpretation),
		Date:           o.EffectiveDate,
		Specimen:       deref(o.Specimen),
	}
}

func (o *Observation) ToVitalReading() dotphrase.VitalReading {
	r := dotphrase.VitalReading{
		EffectiveDateTime: o.EffectiveDate,
		Value:             o.value(),
		Unit:              deref(o.Unit),
	}
	if o.Systolic != nil {
		r.Systolic = formatQuantity(*o.Systolic)
	}
	if o.Diastolic != nil {
		r.Diastolic = formatQuantity(*o.Diastolic)
	}
	return r
}

// vitalsByLOINC maps the LOINC codes of the vital-signs profile to the
// engine's vital types.
var vitalsByLOINC = map[string]dotphrase.VitalType{
	"85354-9": dotphrase.VitalBloodPressure,
	"55284-4": dotphrase.VitalBloodPressure,
	"8867-4":  dotphrase.VitalHeartRate,
	"8310-5":  dotphrase.VitalTemperature,
	"9279-1":  dotphrase.VitalRespiratoryRate,
	"59408-5": dotphrase.VitalOxygenSaturation,
	"2708-6":  dotphrase.VitalOxygenSaturation,
	"29463-7": dotphrase.VitalWeight,
	"8302-2":  dotphrase.VitalHeight,
	"39156-5": dotphrase.VitalBMI,
}

// ServiceRequest is an order. Category is "lab" or "medication".
type ServiceRequest struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Category    string    `db:"category" json:"category"`
	CodeDisplay string    `db:"code_display" json:"code_display"`
	Status      string    `db:"status" json:"status"`
	AuthoredOn  time.Time `db:"authored_on" json:"authored_on"`
}

func (s *ServiceRequest) ToRecord() dotphrase.OrderRecord {
	return dotphrase.OrderRecord{
		Date:   s.AuthoredOn,
		Type:   s.Category,
		Name:   s.CodeDisplay,
		Status: s.Status,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatQuantity(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
