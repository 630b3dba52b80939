package dotphrase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownToken      = errors.New("dotphrase: unknown token")
	ErrNoProvider        = errors.New("dotphrase: no provider configured")
	ErrUnrecognizedShape = errors.New("dotphrase: unrecognized provider response")
	ErrNoPatient         = errors.New("dotphrase: no active patient")
)

// dispatch parses tok and calls the provider for its family. Filters with a
// relative window are pinned to the clock here, not at scan time.
func (e *Engine) dispatch(ctx context.Context, patientID string, tok Token) (*ResolvedValue, error) {
	if patientID == "" {
		return nil, ErrNoPatient
	}
	filter, err := e.grammar.Parse(tok.Name, tok.Tail)
	if err != nil {
		return nil, err
	}
	now := e.now()
	p := e.providers

	switch f := filter.(type) {
	case DemographicsFilter:
		if p.Demographics == nil {
			return nil, ErrNoProvider
		}
		d, err := p.Demographics.GetDemographics(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("demographics: %w", err)
		}
		if d == nil {
			return nil, ErrUnrecognizedShape
		}
		v := FormatScalar(demographicField(d, f.Field, now))
		return &v, nil

	case MedsFilter:
		if p.Medications == nil {
			return nil, ErrNoProvider
		}
		f.Window = resolveWindow(f.Window, now)
		meds, err := p.Medications.ListMedications(ctx, patientID, f)
		if err != nil {
			return nil, fmt.Errorf("medications: %w", err)
		}
		v := FormatMeds(narrowMeds(meds, f))
		return &v, nil

	case MedStartedFilter:
		if p.Medications == nil {
			return nil, ErrNoProvider
		}
		if f.Name == "" {
			return nil, ErrUnknownToken
		}
		w := DateWindow{Days: medStartedDays}.Resolve(now)
		meds, err := p.Medications.ListMedications(ctx, patientID, MedsFilter{Name: f.Name, Window: &w})
		if err != nil {
			return nil, fmt.Errorf("medications: %w", err)
		}
		med, started := earliestStart(meds, f.Name)
		v := FormatMedStarted(f.Name, med, started)
		return &v, nil

	case ProblemsFilter:
		if p.Problems == nil {
			return nil, ErrNoProvider
		}
		problems, err := p.Problems.ListProblems(ctx, patientID, f)
		if err != nil {
			return nil, fmt.Errorf("problems: %w", err)
		}
		if f.ActiveOnly {
			problems = activeProblems(problems)
		}
		v := FormatProblems(problems, f.Detailed)
		return &v, nil

	case AllergiesFilter:
		if p.Allergies == nil {
			return nil, ErrNoProvider
		}
		allergies, err := p.Allergies.ListAllergies(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("allergies: %w", err)
		}
		v := FormatAllergies(allergies)
		return &v, nil

	case VitalsFilter:
		if p.Vitals == nil {
			return nil, ErrNoProvider
		}
		var w DateWindow
		if f.Window != nil {
			w = f.Window.Resolve(now)
		}
		bundle, err := p.Vitals.GetVitals(ctx, patientID, w)
		if err != nil {
			return nil, fmt.Errorf("vitals: %w", err)
		}
		v := FormatVitals(bundle)
		return &v, nil

	case LabsFilter:
		if p.Labs == nil {
			return nil, ErrNoProvider
		}
		f.Window = resolveWindow(f.Window, now)
		labs, err := p.Labs.ListLabs(ctx, patientID, f)
		if err != nil {
			return nil, fmt.Errorf("labs: %w", err)
		}
		labs = narrowLabs(labs, f.Names)
		if f.Mode == LabsModeLast {
			labs = latestPerTest(labs)
		}
		v := FormatLabs(labs)
		return &v, nil

	case OrdersFilter:
		if p.Orders == nil {
			return nil, ErrNoProvider
		}
		orders, err := p.Orders.ListOrders(ctx, patientID, f.Status, f.Type, f.Days)
		if err != nil {
			return nil, fmt.Errorf("orders: %w", err)
		}
		v := FormatOrders(orders)
		return &v, nil
	}
	return nil, ErrUnknownToken
}

func resolveWindow(w *DateWindow, now time.Time) *DateWindow {
	if w == nil {
		return nil
	}
	r := w.Resolve(now)
	return &r
}

func demographicField(d *Demographics, field Family, now time.Time) string {
	switch field {
	case FamilyName:
		return d.Name
	case FamilyDOB:
		return formatDate(d.BirthDate)
	case FamilyAge:
		return Age(d.BirthDate, now)
	case FamilyPhone:
		return d.Phone
	case FamilySex:
		return d.Sex
	case FamilyMRN:
		return d.MRN
	}
	return ""
}

// Age renders whole years since birth, or months under two years. A zero or
// future birth date yields "".
func Age(birth, now time.Time) string {
	if birth.IsZero() || birth.After(now) {
		return ""
	}
	months := (now.Year()-birth.Year())*12 + int(now.Month()-birth.Month())
	if now.Day() < birth.Day() {
		months--
	}
	if months < 24 {
		return strconv.Itoa(months) + " months"
	}
	return strconv.Itoa(months / 12)
}

func isActiveStatus(s string) bool {
	switch lower(s) {
	case "", "active", "on-hold", "intended":
		return true
	}
	return false
}

// narrowMeds applies the display-name substring filter client side, since
// provider name matching is looser than what the list should show.
func narrowMeds(meds []MedicationRecord, f MedsFilter) []MedicationRecord {
	needle := lower(f.Name)
	out := meds[:0:0]
	for _, m := range meds {
		if needle != "" && !strings.Contains(lower(m.Name), needle) {
			continue
		}
		if f.ActiveOnly && !isActiveStatus(m.Status) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// earliestStart returns the medication whose start-like date is earliest
// among those whose name contains query. Each record contributes its first
// present date in the order start, written, ordered, first fill, last fill.
func earliestStart(meds []MedicationRecord, query string) (*MedicationRecord, time.Time) {
	needle := lower(query)
	var best *MedicationRecord
	var bestAt time.Time
	for i := range meds {
		m := &meds[i]
		if !strings.Contains(lower(m.Name), needle) {
			continue
		}
		for _, t := range []time.Time{m.StartDate, m.WrittenDate, m.OrderedDate, m.FirstFill, m.LastFill} {
			if t.IsZero() {
				continue
			}
			if best == nil || t.Before(bestAt) {
				best, bestAt = m, t
			}
			break
		}
	}
	return best, bestAt
}

func activeProblems(problems []ProblemRecord) []ProblemRecord {
	out := problems[:0:0]
	for _, p := range problems {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// narrowLabs keeps results whose test name contains one of names, or whose
// LOINC equals one of them. No names keeps everything.
func narrowLabs(labs []LabRecord, names []string) []LabRecord {
	if len(names) == 0 {
		return labs
	}
	out := labs[:0:0]
	for _, l := range labs {
		test := lower(l.Test)
		for _, n := range names {
			n = lower(n)
			if n == "" {
				continue
			}
			if strings.Contains(test, n) || strings.EqualFold(l.LOINC, n) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// latestPerTest keeps the most recent result per test key.
func latestPerTest(labs []LabRecord) []LabRecord {
	latest := map[string]int{}
	var order []string
	for i, l := range labs {
		k := l.key()
		j, ok := latest[k]
		if !ok {
			order = append(order, k)
			latest[k] = i
			continue
		}
		if l.Date.After(labs[j].Date) {
			latest[k] = i
		}
	}
	out := make([]LabRecord, 0, len(order))
	for _, k := range order {
		out = append(out, labs[latest[k]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}
