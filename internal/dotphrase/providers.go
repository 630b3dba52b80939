package dotphrase

import (
	"context"
	"time"
)

// PatientContext supplies the active patient. It is read once per Expand.
type PatientContext interface {
	ActivePatient(ctx context.Context) (patientID string, ok bool)
}

// PatientContextFunc adapts a function to PatientContext.
type PatientContextFunc func(ctx context.Context) (string, bool)

func (f PatientContextFunc) ActivePatient(ctx context.Context) (string, bool) { return f(ctx) }

// StaticPatient is a PatientContext that always returns the same patient.
type StaticPatient string

func (p StaticPatient) ActivePatient(context.Context) (string, bool) {
	return string(p), p != ""
}

// Demographics holds the scalar patient fields.
type Demographics struct {
	Name      string    `json:"name"`
	BirthDate time.Time `json:"dob"`
	Phone     string    `json:"phone,omitempty"`
	Sex       string    `json:"sex,omitempty"`
	MRN       string    `json:"mrn,omitempty"`
}

type MedicationRecord struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Route     string `json:"route,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Status    string `json:"status,omitempty"`

	StartDate   time.Time `json:"startDate,omitempty"`
	WrittenDate time.Time `json:"writtenDate,omitempty"`
	OrderedDate time.Time `json:"orderedDate,omitempty"`
	FirstFill   time.Time `json:"firstFill,omitempty"`
	LastFill    time.Time `json:"lastFill,omitempty"`
}

type ProblemRecord struct {
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	Status       string    `json:"status,omitempty"`
	RecordedDate time.Time `json:"recordedDate,omitempty"`
	Comments     []string  `json:"comments,omitempty"`
}

type AllergyRecord struct {
	Substance   string `json:"substance"`
	Criticality string `json:"criticality,omitempty"`
	Reaction    string `json:"reaction,omitempty"`
	Status      string `json:"status,omitempty"`
}

// VitalType keys a VitalsBundle.
type VitalType string

const (
	VitalBloodPressure    VitalType = "bloodPressure"
	VitalHeartRate        VitalType = "heartRate"
	VitalTemperature      VitalType = "temperature"
	VitalWeight           VitalType = "weight"
	VitalHeight           VitalType = "height"
	VitalBMI              VitalType = "bmi"
	VitalOxygenSaturation VitalType = "oxygenSaturation"
	VitalRespiratoryRate  VitalType = "respiratoryRate"
)

// VitalTypes lists every vital in display order.
var VitalTypes = []VitalType{
	VitalBloodPressure, VitalHeartRate, VitalTemperature, VitalRespiratoryRate,
	VitalOxygenSaturation, VitalWeight, VitalHeight, VitalBMI,
}

// VitalReading is one observation. Blood pressure uses Systolic/Diastolic,
// every other vital uses Value.
type VitalReading struct {
	EffectiveDateTime time.Time `json:"effectiveDateTime"`
	Value             string    `json:"value,omitempty"`
	Systolic          string    `json:"systolic,omitempty"`
	Diastolic         string    `json:"diastolic,omitempty"`
	Unit              string    `json:"unit,omitempty"`
}

type VitalsBundle map[VitalType][]VitalReading

type LabRecord struct {
	Test           string    `json:"test"`
	LOINC          string    `json:"loinc,omitempty"`
	Value          string    `json:"result"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange string    `json:"referenceRange,omitempty"`
	Interpretation string    `json:"interpretation,omitempty"`
	Date           time.Time `json:"resulted"`
	Specimen       string    `json:"specimen,omitempty"`
}

// key groups results of the same test: LOINC when present, else the
// lower-cased test name.
func (r LabRecord) key() string {
	if r.LOINC != "" {
		return r.LOINC
	}
	return lower(r.Test)
}

type OrderRecord struct {
	Date   time.Time `json:"date"`
	Type   string    `json:"type"`
	Name   string    `json:"name"`
	Status string    `json:"current_status"`
}

type DemographicsProvider interface {
	GetDemographics(ctx context.Context, patientID string) (*Demographics, error)
}

type MedicationProvider interface {
	ListMedications(ctx context.Context, patientID string, f MedsFilter) ([]MedicationRecord, error)
}

type ProblemProvider interface {
	ListProblems(ctx context.Context, patientID string, f ProblemsFilter) ([]ProblemRecord, error)
}

type AllergyProvider interface {
	ListAllergies(ctx context.Context, patientID string) ([]AllergyRecord, error)
}

type VitalsProvider interface {
	GetVitals(ctx context.Context, patientID string, w DateWindow) (VitalsBundle, error)
}

type LabProvider interface {
	ListLabs(ctx context.Context, patientID string, f LabsFilter) ([]LabRecord, error)
}

type OrderProvider interface {
	ListOrders(ctx context.Context, patientID string, status OrderStatus, orderType OrderType, days int) ([]OrderRecord, error)
}

// Providers bundles the data sources the engine reads. A nil provider makes
// its families resolve to "unexpanded".
type Providers struct {
	Demographics DemographicsProvider
	Medications  MedicationProvider
	Problems     ProblemProvider
	Allergies    AllergyProvider
	Vitals       VitalsProvider
	Labs         LabProvider
	Orders       OrderProvider
}

// Chart is implemented by a single backend that serves every family.
type Chart interface {
	DemographicsProvider
	MedicationProvider
	ProblemProvider
	AllergyProvider
	VitalsProvider
	LabProvider
	OrderProvider
}

// ProvidersFrom wires every provider slot to c.
func ProvidersFrom(c Chart) Providers {
	return Providers{
		Demographics: c,
		Medications:  c,
		Problems:     c,
		Allergies:    c,
		Vitals:       c,
		Labs:         c,
		Orders:       c,
	}
}
