package chart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehr/scribe/internal/dotphrase"
)

var ErrPatientNotFound = errors.New("patient not found")

// Service answers the engine's provider calls from the chart read model.
type Service struct {
	patients     PatientRepository
	medications  MedicationRequestRepository
	conditions   ConditionRepository
	allergies    AllergyRepository
	observations ObservationRepository
	orders       ServiceRequestRepository
	now          func() time.Time
}

func NewService(
	patients PatientRepository,
	meds MedicationRequestRepository,
	conditions ConditionRepository,
	allergies AllergyRepository,
	observations ObservationRepository,
	orders ServiceRequestRepository,
) *Service {
	return &Service{
		patients:     patients,
		medications:  meds,
		conditions:   conditions,
		allergies:    allergies,
		observations: observations,
		orders:       orders,
		now:          time.Now,
	}
}

var _ dotphrase.Chart = (*Service)(nil)

func (s *Service) patient(ctx context.Context, ref string) (*Patient, error) {
	if ref == "" {
		return nil, fmt.Errorf("patient id is required")
	}
	p, err := s.patients.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// bounds turns a resolved window into inclusive date bounds.
func bounds(w *dotphrase.DateWindow) (start, end *time.Time) {
	if w == nil {
		return nil, nil
	}
	if t, err := time.Parse(dotphrase.ISODate, w.Start); err == nil {
		start = &t
	}
	if t, err := time.Parse(dotphrase.ISODate, w.End); err == nil {
		end = &t
	}
	return start, end
}

func (s *Service) GetDemographics(ctx context.Context, patientID string) (*dotphrase.Demographics, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return p.ToDemographics(), nil
}

func (s *Service) ListMedications(ctx context.Context, patientID string, f dotphrase.MedsFilter) ([]dotphrase.MedicationRecord, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	q := MedicationQuery{ActiveOnly: f.ActiveOnly, NameLike: f.Name}
	q.Start, q.End = bounds(f.Window)
	rows, err := s.medications.ListByPatient(ctx, p.ID, q)
	if err != nil {
		return nil, fmt.Errorf("list medication requests: %w", err)
	}
	out := make([]dotphrase.MedicationRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.ToRecord())
	}
	return out, nil
}

func (s *Service) ListProblems(ctx context.Context, patientID string, f dotphrase.ProblemsFilter) ([]dotphrase.ProblemRecord, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rows, err := s.conditions.ListByPatient(ctx, p.ID, f.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	out := make([]dotphrase.ProblemRecord, 0, len(rows))
	for _, c := range rows {
		out = append(out, c.ToRecord())
	}
	return out, nil
}

func (s *Service) ListAllergies(ctx context.Context, patientID string) ([]dotphrase.AllergyRecord, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rows, err := s.allergies.ListByPatient(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list allergies: %w", err)
	}
	out := make([]dotphrase.AllergyRecord, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.ToRecord())
	}
	return out, nil
}

func (s *Service) GetVitals(ctx context.Context, patientID string, w dotphrase.DateWindow) (dotphrase.VitalsBundle, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	q := ObservationQuery{Category: CategoryVitalSigns}
	q.Start, q.End = bounds(&w)
	rows, err := s.observations.ListByPatient(ctx, p.ID, q)
	if err != nil {
		return nil, fmt.Errorf("list vitals: %w", err)
	}
	bundle := dotphrase.VitalsBundle{}
	for _, o := range rows {
		vt, ok := vitalsByLOINC[o.CodeValue]
		if !ok {
			continue
		}
		bundle[vt] = append(bundle[vt], o.ToVitalReading())
	}
	return bundle, nil
}

func (s *Service) ListLabs(ctx context.Context, patientID string, f dotphrase.LabsFilter) ([]dotphrase.LabRecord, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	q := ObservationQuery{Category: CategoryLaboratory, Names: f.Names}
	if !f.FullHistory {
		q.Start, q.End = bounds(f.Window)
	}
	rows, err := s.observations.ListByPatient(ctx, p.ID, q)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	out := make([]dotphrase.LabRecord, 0, len(rows))
	for _, o := range rows {
		out = append(out, o.ToLabRecord())
	}
	return out, nil
}

// orderStatuses expands a normalized order status to stored values; nil
// means any status.
func orderStatuses(st dotphrase.OrderStatus) []string {
	switch st {
	case dotphrase.OrderStatusActive:
		return []string{"active"}
	case dotphrase.OrderStatusPending:
		return []string{"pending", "draft", "on-hold"}
	case dotphrase.OrderStatusAll:
		return nil
	default:
		return []string{"active", "pending", "draft", "on-hold"}
	}
}

func orderCategory(t dotphrase.OrderType) string {
	switch t {
	case dotphrase.OrderTypeLabs:
		return "lab"
	case dotphrase.OrderTypeMeds:
		return "medication"
	}
	return ""
}

func (s *Service) ListOrders(ctx context.Context, patientID string, status dotphrase.OrderStatus, orderType dotphrase.OrderType, days int) ([]dotphrase.OrderRecord, error) {
	p, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	q := OrderQuery{Statuses: orderStatuses(status), Category: orderCategory(orderType)}
	if days > 0 {
		q.Since = s.now().AddDate(0, 0, -days)
	}
	rows, err := s.orders.ListByPatient(ctx, p.ID, q)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]dotphrase.OrderRecord, 0, len(rows))
	for _, o := range rows {
		out = append(out, o.ToRecord())
	}
	return out, nil
}
