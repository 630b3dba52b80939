package chart

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/ehr/scribe/internal/dotphrase"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func (m *mockPatientRepo) Lookup(_ context.Context, ref string) (*Patient, error) {
	for _, p := range m.patients {
		if p.ID.String() == ref || p.FHIRID == ref || p.MRN == ref {
			return p, nil
		}
	}
	return nil, ErrPatientNotFound
}

type mockMedRepo struct {
	items []*MedicationRequest
	last  MedicationQuery
}

func (m *mockMedRepo) ListByPatient(_ context.Context, patientID uuid.UUID, q MedicationQuery) ([]*MedicationRequest, error) {
	m.last = q
	var out []*MedicationRequest
	for _, r := range m.items {
		if r.PatientID != patientID {
			continue
		}
		if q.ActiveOnly && r.Status != "active" {
			continue
		}
		if q.NameLike != "" && !strings.Contains(strings.ToLower(r.CodeDisplay), strings.ToLower(q.NameLike)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type mockConditionRepo struct {
	items []*Condition
}

func (m *mockConditionRepo) ListByPatient(_ context.Context, patientID uuid.UUID, activeOnly bool) ([]*Condition, error) {
	var out []*Condition
	for _, c := range m.items {
		if c.PatientID == patientID && (!activeOnly || activeClinicalStatuses[c.ClinicalStatus]) {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockAllergyRepo struct {
	items []*AllergyIntolerance
}

func (m *mockAllergyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*AllergyIntolerance, error) {
	var out []*AllergyIntolerance
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockObservationRepo struct {
	items []*Observation
	last  ObservationQuery
	err   error
}

func (m *mockObservationRepo) ListByPatient(_ context.Context, patientID uuid.UUID, q ObservationQuery) ([]*Observation, error) {
	m.last = q
	if m.err != nil {
		return nil, m.err
	}
	var out []*Observation
	for _, o := range m.items {
		if o.PatientID == patientID && (q.Category == "" || o.Category == q.Category) {
			out = append(out, o)
		}
	}
	return out, nil
}

type mockOrderRepo struct {
	items []*ServiceRequest
	last  OrderQuery
}

func (m *mockOrderRepo) ListByPatient(_ context.Context, patientID uuid.UUID, q OrderQuery) ([]*ServiceRequest, error) {
	m.last = q
	var out []*ServiceRequest
	for _, s := range m.items {
		if s.PatientID == patientID {
			out = append(out, s)
		}
	}
	return out, nil
}

type testRepos struct {
	patients     *mockPatientRepo
	meds         *mockMedRepo
	conditions   *mockConditionRepo
	allergies    *mockAllergyRepo
	observations *mockObservationRepo
	orders       *mockOrderRepo
}

var testNow = time.Date(2024, time.July, 15, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestService() (*Service, *testRepos, *Patient) {
	p := &Patient{
		ID: uuid.New(), FHIRID: "pat-1", MRN: "MRN001",
		FirstName: "Jane", LastName: "Doe",
		BirthDate: ptr(date("1980-03-10")), Gender: ptr("female"), Phone: ptr("555-0100"),
	}
	r := &testRepos{
		patients:     &mockPatientRepo{patients: map[uuid.UUID]*Patient{p.ID: p}},
		meds:         &mockMedRepo{},
		conditions:   &mockConditionRepo{},
		allergies:    &mockAllergyRepo{},
		observations: &mockObservationRepo{},
		orders:       &mockOrderRepo{},
	}
	svc := NewService(r.patients, r.meds, r.conditions, r.allergies, r.observations, r.orders)
	svc.now = func() time.Time { return testNow }
	return svc, r, p
}

func TestService_GetDemographics(t *testing.T) {
	svc, _, _ := newTestService()
	d, err := svc.GetDemographics(context.Background(), "MRN001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &dotphrase.Demographics{Name: "Jane Doe", BirthDate: date("1980-03-10"), Phone: "555-0100", Sex: "female", MRN: "MRN001"}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestService_PatientNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.GetDemographics(context.Background(), "nobody")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
	if _, err := svc.ListAllergies(context.Background(), ""); err == nil {
		t.Error("expected error for empty patient id")
	}
}

func TestService_ListMedications(t *testing.T) {
	svc, r, p := newTestService()
	r.meds.items = []*MedicationRequest{
		{PatientID: p.ID, CodeDisplay: "Metformin 500 mg", Dose: ptr("500 mg"), Status: "active", AuthoredOn: ptr(date("2020-01-01"))},
		{PatientID: p.ID, CodeDisplay: "Amoxicillin", Status: "completed"},
		{PatientID: uuid.New(), CodeDisplay: "Other patient", Status: "active"},
	}
	w := dotphrase.DateWindow{Start: "2020-01-01", End: "2024-07-15"}
	meds, err := svc.ListMedications(context.Background(), "pat-1", dotphrase.MedsFilter{ActiveOnly: true, Window: &w})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meds) != 1 || meds[0].Name != "Metformin 500 mg" || meds[0].WrittenDate != date("2020-01-01") {
		t.Errorf("unexpected meds: %+v", meds)
	}
	if r.meds.last.Start == nil || !r.meds.last.Start.Equal(date("2020-01-01")) {
		t.Errorf("expected start bound, got %+v", r.meds.last)
	}
}

func TestService_ListProblems(t *testing.T) {
	svc, r, p := newTestService()
	r.conditions.items = []*Condition{
		{PatientID: p.ID, CodeDisplay: "Hypertension", ClinicalStatus: "active", Note: ptr("home BP log")},
		{PatientID: p.ID, CodeDisplay: "Appendicitis", ClinicalStatus: "resolved"},
	}
	active, err := svc.ListProblems(context.Background(), "pat-1", dotphrase.ProblemsFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []dotphrase.ProblemRecord{{Name: "Hypertension", Active: true, Status: "active", Comments: []string{"home BP log"}}}
	if diff := cmp.Diff(want, active); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	all, _ := svc.ListProblems(context.Background(), "pat-1", dotphrase.ProblemsFilter{})
	if len(all) != 2 {
		t.Errorf("expected 2 problems, got %d", len(all))
	}
}

func TestService_GetVitals(t *testing.T) {
	svc, r, p := newTestService()
	r.observations.items = []*Observation{
		{PatientID: p.ID, Category: CategoryVitalSigns, CodeValue: "85354-9", Systolic: ptr(128.0), Diastolic: ptr(82.0), Unit: ptr("mmHg"), EffectiveDate: date("2024-07-01")},
		{PatientID: p.ID, Category: CategoryVitalSigns, CodeValue: "8867-4", ValueQuantity: ptr(72.0), Unit: ptr("/min"), EffectiveDate: date("2024-07-01")},
		{PatientID: p.ID, Category: CategoryVitalSigns, CodeValue: "0000-0", ValueQuantity: ptr(1.0), EffectiveDate: date("2024-07-01")},
	}
	bundle, err := svc.GetVitals(context.Background(), "pat-1", dotphrase.DateWindow{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.observations.last.Start != nil || r.observations.last.End != nil {
		t.Errorf("empty window should not bound the query, got %+v", r.observations.last)
	}
	bp := bundle[dotphrase.VitalBloodPressure]
	if len(bp) != 1 || bp[0].Systolic != "128" || bp[0].Diastolic != "82" {
		t.Errorf("unexpected blood pressure: %+v", bp)
	}
	if hr := bundle[dotphrase.VitalHeartRate]; len(hr) != 1 || hr[0].Value != "72" {
		t.Errorf("unexpected heart rate: %+v", hr)
	}
	if len(bundle) != 2 {
		t.Errorf("unknown codes should be dropped, got %d types", len(bundle))
	}
}

func TestService_ListLabs(t *testing.T) {
	svc, r, p := newTestService()
	r.observations.items = []*Observation{
		{PatientID: p.ID, Category: CategoryLaboratory, CodeValue: "4548-4", CodeDisplay: "Hemoglobin A1c", ValueQuantity: ptr(6.8), Unit: ptr("%"), EffectiveDate: date("2024-06-01")},
		{PatientID: p.ID, Category: CategoryVitalSigns, CodeValue: "8867-4", ValueQuantity: ptr(72.0), EffectiveDate: date("2024-07-01")},
	}
	w := dotphrase.DateWindow{Start: "2024-07-01", End: "2024-07-15", Days: 14}
	labs, err := svc.ListLabs(context.Background(), "pat-1", dotphrase.LabsFilter{Names: []string{"a1c"}, FullHistory: true, Window: &w})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.observations.last.Start != nil {
		t.Errorf("full history must not send a start bound, got %v", r.observations.last.Start)
	}
	if diff := cmp.Diff([]string{"a1c"}, r.observations.last.Names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	want := []dotphrase.LabRecord{{Test: "Hemoglobin A1c", LOINC: "4548-4", Value: "6.8", Unit: "%", Date: date("2024-06-01")}}
	if diff := cmp.Diff(want, labs); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestService_ListLabs_RepoError(t *testing.T) {
	svc, r, _ := newTestService()
	r.observations.err = errors.New("connection reset")
	if _, err := svc.ListLabs(context.Background(), "pat-1", dotphrase.LabsFilter{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestService_ListOrders(t *testing.T) {
	svc, r, p := newTestService()
	r.orders.items = []*ServiceRequest{{PatientID: p.ID, Category: "lab", CodeDisplay: "CBC", Status: "active", AuthoredOn: date("2024-07-10")}}

	tests := []struct {
		status   dotphrase.OrderStatus
		typ      dotphrase.OrderType
		statuses []string
		category string
	}{
		{dotphrase.OrderStatusCurrent, dotphrase.OrderTypeAll, []string{"active", "pending", "draft", "on-hold"}, ""},
		{dotphrase.OrderStatusActive, dotphrase.OrderTypeMeds, []string{"active"}, "medication"},
		{dotphrase.OrderStatusAll, dotphrase.OrderTypeLabs, nil, "lab"},
	}
	for _, tt := range tests {
		orders, err := svc.ListOrders(context.Background(), "pat-1", tt.status, tt.typ, 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 1 || orders[0].Name != "CBC" {
			t.Errorf("unexpected orders: %+v", orders)
		}
		want := OrderQuery{Statuses: tt.statuses, Category: tt.category, Since: testNow.AddDate(0, 0, -7)}
		if diff := cmp.Diff(want, r.orders.last); diff != "" {
			t.Errorf("%s/%s query mismatch (-want +got):\n%s", tt.status, tt.typ, diff)
		}
	}
}

func TestService_DrivesEngine(t *testing.T) {
	svc, r, p := newTestService()
	r.observations.items = []*Observation{
		{PatientID: p.ID, Category: CategoryLaboratory, CodeValue: "4548-4", CodeDisplay: "Hemoglobin A1c", ValueQuantity: ptr(7.2), EffectiveDate: date("2024-01-01")},
		{PatientID: p.ID, Category: CategoryLaboratory, CodeValue: "4548-4", CodeDisplay: "Hemoglobin A1c", ValueQuantity: ptr(6.8), EffectiveDate: date("2024-06-01")},
	}
	engine := dotphrase.NewEngine(dotphrase.ProvidersFrom(svc), dotphrase.StaticPatient("pat-1"),
		dotphrase.WithClock(func() time.Time { return testNow }))
	got := engine.Replace(context.Background(), ".name: .labs/a1c:last")
	if !strings.HasPrefix(got, "Jane Doe: | Date |") || !strings.Contains(got, "| 2024-06-01 | Hemoglobin A1c | 6.8 |") {
		t.Errorf("unexpected expansion %q", got)
	}
}
