package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/scribe/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Tables are schema-qualified from the request's tenant instead of relying on
// a pinned connection's search_path; one expansion reads several tables at
// once and a pgx connection serves one query at a time.
func table(ctx context.Context, name string) string {
	return db.Qualify(ctx, name)
}

// where accumulates positional predicates for the list queries.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a substring LIKE pattern that matches s literally.
// Backslash is the escape character, which is also the Postgres default.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func likePatterns(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, containsPattern(n))
		}
	}
	return out
}

// =========== Patient Repository ===========

type patientRepoPG struct{ q queryable }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{q: pool}
}

const patientCols = `id, fhir_id, mrn, first_name, last_name, birth_date, gender, phone`

func (r *patientRepoPG) Lookup(ctx context.Context, ref string) (*Patient, error) {
	var p Patient
	q := `SELECT ` + patientCols + ` FROM ` + table(ctx, "patient") + ` WHERE fhir_id = $1 OR mrn = $1`
	args := []interface{}{ref}
	if id, err := uuid.Parse(ref); err == nil {
		q = `SELECT ` + patientCols + ` FROM ` + table(ctx, "patient") + ` WHERE id = $1`
		args = []interface{}{id}
	}
	err := r.q.QueryRow(ctx, q+` LIMIT 1`, args...).Scan(
		&p.ID, &p.FHIRID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =========== Medication Request Repository ===========

type medicationRequestRepoPG struct{ q queryable }

func NewMedicationRequestRepoPG(pool *pgxpool.Pool) MedicationRequestRepository {
	return &medicationRequestRepoPG{q: pool}
}

const medReqCols = `id, patient_id, code_display, dose, route, frequency, status,
	start_date, authored_on, ordered_at, first_fill, last_fill`

func (r *medicationRequestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, q MedicationQuery) ([]*MedicationRequest, error) {
	w := &where{}
	w.add("patient_id = ?", patientID)
	if q.ActiveOnly {
		w.add("status IN ('active', 'on-hold')")
	}
	if q.NameLike != "" {
		w.add(`code_display ILIKE ? ESCAPE '\'`, containsPattern(q.NameLike))
	}
	if q.Start != nil {
		w.add("COALESCE(start_date, authored_on) >= ?", *q.Start)
	}
	if q.End != nil {
		w.add("COALESCE(start_date, authored_on) <= ?", *q.End)
	}

	rows, err := r.q.Query(ctx,
		`SELECT `+medReqCols+` FROM `+table(ctx, "medication_request")+w.String()+` ORDER BY authored_on DESC NULLS LAST`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MedicationRequest
	for rows.Next() {
		var m MedicationRequest
		if err := rows.Scan(&m.ID, &m.PatientID, &m.CodeDisplay, &m.Dose, &m.Route, &m.Frequency, &m.Status,
			&m.StartDate, &m.AuthoredOn, &m.OrderedAt, &m.FirstFill, &m.LastFill); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

// =========== Condition Repository ===========

type conditionRepoPG struct{ q queryable }

func NewConditionRepoPG(pool *pgxpool.Pool) ConditionRepository {
	return &conditionRepoPG{q: pool}
}

func (r *conditionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Condition, error) {
	w := &where{}
	w.add("patient_id = ?", patientID)
	if activeOnly {
		w.add("clinical_status IN ('active', 'recurrence', 'relapse')")
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, patient_id, code_display, clinical_status, recorded_date, note FROM `+table(ctx, "condition")+
			w.String()+` ORDER BY recorded_date DESC NULLS LAST`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Condition
	for rows.Next() {
		var c Condition
		if err := rows.Scan(&c.ID, &c.PatientID, &c.CodeDisplay, &c.ClinicalStatus, &c.RecordedDate, &c.Note); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ q queryable }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository {
	return &allergyRepoPG{q: pool}
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AllergyIntolerance, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, patient_id, code_display, criticality, reaction, clinical_status
		FROM `+table(ctx, "allergy_intolerance")+`
		WHERE patient_id = $1 AND clinical_status <> 'entered-in-error'
		ORDER BY code_display`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AllergyIntolerance
	for rows.Next() {
		var a AllergyIntolerance
		if err := rows.Scan(&a.ID, &a.PatientID, &a.CodeDisplay, &a.Criticality, &a.Reaction, &a.ClinicalStatus); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

// =========== Observation Repository ===========

type observationRepoPG struct{ q queryable }

func NewObservationRepoPG(pool *pgxpool.Pool) ObservationRepository {
	return &observationRepoPG{q: pool}
}

const obsCols = `id, patient_id, category, code_value, code_display, value_quantity, value_string,
	value_unit, systolic, diastolic, reference_range, interpretation, specimen, effective_date`

func (r *observationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, q ObservationQuery) ([]*Observation, error) {
	w := &where{}
	w.add("patient_id = ?", patientID)
	if q.Category != "" {
		w.add("category = ?", q.Category)
	}
	if patterns := likePatterns(q.Names); len(patterns) > 0 {
		w.add("(code_display ILIKE ANY(?) OR code_value = ANY(?))", patterns, q.Names)
	}
	if q.Start != nil {
		w.add("effective_date >= ?", *q.Start)
	}
	if q.End != nil {
		w.add("effective_date < ?", q.End.AddDate(0, 0, 1))
	}

	rows, err := r.q.Query(ctx,
		`SELECT `+obsCols+` FROM `+table(ctx, "observation")+w.String()+` ORDER BY effective_date DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PatientID, &o.Category, &o.CodeValue, &o.CodeDisplay, &o.ValueQuantity, &o.ValueString,
			&o.Unit, &o.Systolic, &o.Diastolic, &o.ReferenceRange, &o.Interpretation, &o.Specimen, &o.EffectiveDate); err != nil {
			return nil, err
		}
		items = append(items, &o)
	}
	return items, rows.Err()
}

// =========== Service Request Repository ===========

type serviceRequestRepoPG struct{ q queryable }

func NewServiceRequestRepoPG(pool *pgxpool.Pool) ServiceRequestRepository {
	return &serviceRequestRepoPG{q: pool}
}

func (r *serviceRequestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, q OrderQuery) ([]*ServiceRequest, error) {
	w := &where{}
	w.add("patient_id = ?", patientID)
	if len(q.Statuses) > 0 {
		w.add("status = ANY(?)", q.Statuses)
	}
	if q.Category != "" {
		w.add("category = ?", q.Category)
	}
	if !q.Since.IsZero() {
		w.add("authored_on >= ?", q.Since)
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, patient_id, category, code_display, status, authored_on FROM `+table(ctx, "service_request")+
			w.String()+` ORDER BY authored_on DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ServiceRequest
	for rows.Next() {
		var s ServiceRequest
		if err := rows.Scan(&s.ID, &s.PatientID, &s.Category, &s.CodeDisplay, &s.Status, &s.AuthoredOn); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

// NewPGService wires every chart repository to pool.
func NewPGService(pool *pgxpool.Pool) *Service {
	return NewService(
		NewPatientRepoPG(pool),
		NewMedicationRequestRepoPG(pool),
		NewConditionRepoPG(pool),
		NewAllergyRepoPG(pool),
		NewObservationRepoPG(pool),
		NewServiceRequestRepoPG(pool),
	)
}
