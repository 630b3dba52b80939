package chart

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRepository interface {
	// Lookup accepts the internal UUID, the FHIR id or the MRN.
	Lookup(ctx context.Context, ref string) (*Patient, error)
}

// MedicationQuery narrows a medication request listing. Zero values mean
// "no bound".
type MedicationQuery struct {
	ActiveOnly bool
	NameLike   string
	Start, End *time.Time
}

type MedicationRequestRepository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, q MedicationQuery) ([]*MedicationRequest, error)
}

type ConditionRepository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Condition, error)
}

type AllergyRepository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AllergyIntolerance, error)
}

type ObservationQuery struct {
	Category   string
	Names      []string
	Start, End *time.Time
}

type ObservationRepository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, q ObservationQuery) ([]*Observation, error)
}

type OrderQuery struct {
	Statuses []string
	Category string
	Since    time.Time
}

type ServiceRequestRepository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, q OrderQuery) ([]*ServiceRequest, error)
}
