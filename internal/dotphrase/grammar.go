package dotphrase

import (
	"strconv"
	"strings"
	"time"
)

// Family identifies which provider a token is dispatched to.
type Family string

const (
	FamilyName       Family = "name"
	FamilyDOB        Family = "dob"
	FamilyAge        Family = "age"
	FamilyPhone      Family = "phone"
	FamilySex        Family = "sex"
	FamilyMRN        Family = "mrn"
	FamilyMeds       Family = "meds"
	FamilyMedStarted Family = "medstarted"
	FamilyProblems   Family = "problems"
	FamilyAllergies  Family = "allergies"
	FamilyVitals     Family = "vitals"
	FamilyLabs       Family = "labs"
	FamilyOrders     Family = "orders"
)

var families = map[string]Family{
	"name":        FamilyName,
	"dob":         FamilyDOB,
	"birthdate":   FamilyDOB,
	"age":         FamilyAge,
	"phone":       FamilyPhone,
	"sex":         FamilySex,
	"gender":      FamilySex,
	"mrn":         FamilyMRN,
	"meds":        FamilyMeds,
	"medications": FamilyMeds,
	"medlist":     FamilyMeds,
	"medstarted":  FamilyMedStarted,
	"problems":    FamilyProblems,
	"pmh":         FamilyProblems,
	"problemlist": FamilyProblems,
	"allergies":   FamilyAllergies,
	"allergy":     FamilyAllergies,
	"vitals":      FamilyVitals,
	"vital":       FamilyVitals,
	"vs":          FamilyVitals,
	"labs":        FamilyLabs,
	"lab":         FamilyLabs,
	"orders":      FamilyOrders,
	"order":       FamilyOrders,
}

// LookupFamily maps a token name (or one of its aliases) to its family.
func LookupFamily(name string) (Family, bool) {
	f, ok := families[strings.ToLower(name)]
	return f, ok
}

// DateWindow bounds which records a provider returns. Days and Start/End
// express the same concept; Resolve fills Start/End from Days.
type DateWindow struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Days  int    `json:"days,omitempty"`
}

// Resolve returns a copy with a relative Days window pinned to
// [now-Days, now]. Explicit bounds are left alone.
func (w DateWindow) Resolve(now time.Time) DateWindow {
	if w.Days > 0 && w.Start == "" && w.End == "" {
		w.Start = now.AddDate(0, 0, -w.Days).Format(ISODate)
		w.End = now.Format(ISODate)
	}
	return w
}

// Contains reports whether t falls inside the resolved window. A zero t is
// never inside a bounded window.
func (w DateWindow) Contains(t time.Time) bool {
	if w.Start == "" && w.End == "" {
		return true
	}
	if t.IsZero() {
		return false
	}
	d := t.Format(ISODate)
	if w.Start != "" && d < w.Start {
		return false
	}
	if w.End != "" && d > w.End {
		return false
	}
	return true
}

// Filter is the normalized argument set of one token.
type Filter interface {
	Family() Family
}

type DemographicsFilter struct {
	Field Family
}

type MedsFilter struct {
	ActiveOnly bool        `json:"active_only"`
	Name       string      `json:"name,omitempty"`
	Window     *DateWindow `json:"window,omitempty"`
}

type MedStartedFilter struct {
	Name string `json:"name"`
}

type ProblemsFilter struct {
	ActiveOnly bool `json:"active_only"`
	Detailed   bool `json:"detailed"`
}

type AllergiesFilter struct{}

type VitalsFilter struct {
	Window *DateWindow `json:"window,omitempty"`
}

type LabsMode string

const (
	LabsModeAll  LabsMode = "all"
	LabsModeLast LabsMode = "last"
)

// LabsFilter selects lab results. FullHistory is the "all=1" request: no
// date bound at all.
type LabsFilter struct {
	Names       []string    `json:"names,omitempty"`
	Mode        LabsMode    `json:"mode"`
	FullHistory bool        `json:"all"`
	Window      *DateWindow `json:"window,omitempty"`
}

type OrderStatus string

const (
	OrderStatusCurrent OrderStatus = "current"
	OrderStatusActive  OrderStatus = "active"
	OrderStatusPending OrderStatus = "pending"
	OrderStatusAll     OrderStatus = "all"
)

type OrderType string

const (
	OrderTypeAll  OrderType = "all"
	OrderTypeLabs OrderType = "labs"
	OrderTypeMeds OrderType = "meds"
)

// OrdersFilter carries exactly the three values of the orders endpoint
// path, {status}/{type}/{days}.
type OrdersFilter struct {
	Status OrderStatus `json:"status"`
	Type   OrderType   `json:"type"`
	Days   int         `json:"days"`
}

const (
	defaultLabsDays   = 14
	defaultOrdersDays = 7
	medStartedDays    = 3650
)

func (f DemographicsFilter) Family() Family { return f.Field }
func (MedsFilter) Family() Family           { return FamilyMeds }
func (MedStartedFilter) Family() Family     { return FamilyMedStarted }
func (ProblemsFilter) Family() Family       { return FamilyProblems }
func (AllergiesFilter) Family() Family      { return FamilyAllergies }
func (VitalsFilter) Family() Family         { return FamilyVitals }
func (LabsFilter) Family() Family           { return FamilyLabs }
func (OrdersFilter) Family() Family         { return FamilyOrders }

var orderStatusAliases = map[string]OrderStatus{
	"active": OrderStatusActive, "a": OrderStatusActive,
	"pending": OrderStatusPending, "p": OrderStatusPending,
	"current": OrderStatusCurrent, "actpend": OrderStatusCurrent, "ap": OrderStatusCurrent, "c": OrderStatusCurrent,
	"all": OrderStatusAll, "*": OrderStatusAll,
}

var orderTypeAliases = map[string]OrderType{
	"med": OrderTypeMeds, "meds": OrderTypeMeds, "medications": OrderTypeMeds,
	"rx": OrderTypeMeds, "pharmacy": OrderTypeMeds,
	"lab": OrderTypeLabs, "labs": OrderTypeLabs, "laboratory": OrderTypeLabs,
	"all": OrderTypeAll, "*": OrderTypeAll,
}

// NormalizeOrderStatus maps a status alias to its canonical value,
// defaulting to current (active plus pending).
func NormalizeOrderStatus(s string) OrderStatus {
	if st, ok := orderStatusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return OrderStatusCurrent
}

// NormalizeOrderType maps an order type alias to its canonical value,
// defaulting to all.
func NormalizeOrderType(s string) OrderType {
	if t, ok := orderTypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return OrderTypeAll
}

// Grammar normalizes token tails into filters.
type Grammar struct {
	Dates DateResolver
}

// Parse normalizes name and tail with the wall clock. See Grammar.Parse.
func Parse(name, tail string) (Filter, error) {
	return Grammar{}.Parse(name, tail)
}

// Parse maps a token's tail to the filter of its family. Both the path style
// (".meds/active/metformin", ".vitals/30") and the colon-modifier style
// (".orders:status=a,type=rx") are accepted, and may be mixed. Segments that
// fit no pattern are dropped and the family default applies; the only error
// is ErrUnknownToken.
func (g Grammar) Parse(name, tail string) (Filter, error) {
	fam, ok := LookupFamily(name)
	if !ok {
		return nil, ErrUnknownToken
	}
	a := g.split(tail)

	switch fam {
	case FamilyMeds:
		return g.parseMeds(a), nil
	case FamilyMedStarted:
		return MedStartedFilter{Name: strings.Join(a.words(), " ")}, nil
	case FamilyProblems:
		return parseProblems(a), nil
	case FamilyAllergies:
		return AllergiesFilter{}, nil
	case FamilyVitals:
		return VitalsFilter{Window: g.window(a)}, nil
	case FamilyLabs:
		return g.parseLabs(a), nil
	case FamilyOrders:
		return parseOrders(a), nil
	default:
		return DemographicsFilter{Field: fam}, nil
	}
}

// args is a token tail broken into its grammatical pieces.
type args struct {
	positional []string // bare words from path segments
	modifiers  []string // bare words from the colon section, lower-cased
	kv         map[string]string
	days       int
	dates      []string
}

func (a args) words() []string {
	return append(append([]string{}, a.positional...), a.modifiers...)
}

func (g Grammar) split(tail string) args {
	a := args{kv: map[string]string{}}
	path, mods, _ := strings.Cut(tail, ":")

	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if k, v, ok := strings.Cut(seg, "="); ok {
			a.kv[strings.ToLower(k)] = v
			continue
		}
		if g.classifyBound(&a, seg) {
			continue
		}
		for _, w := range strings.FieldsFunc(seg, func(r rune) bool { return r == ',' || r == '+' }) {
			a.positional = append(a.positional, w)
		}
	}

	for _, item := range strings.Split(mods, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if k, v, ok := strings.Cut(item, "="); ok {
			a.kv[strings.ToLower(k)] = v
			continue
		}
		if g.classifyBound(&a, item) {
			continue
		}
		a.modifiers = append(a.modifiers, strings.ToLower(item))
	}
	return a
}

// classifyBound records seg as a date or a day count when it is one. A
// 4-digit integer in 1900..2100 is a year; any other integer is days. A bare
// "A..B" segment is read as range=A..B and dropped when either side is not
// a date.
func (g Grammar) classifyBound(a *args, seg string) bool {
	if lo, hi, ok := strings.Cut(seg, ".."); ok {
		_, loOK := g.Dates.Parse(lo, false)
		_, hiOK := g.Dates.Parse(hi, true)
		if _, set := a.kv["range"]; loOK && hiOK && !set {
			a.kv["range"] = seg
		}
		return true
	}
	if looksLikeYear(seg) {
		a.dates = append(a.dates, seg)
		return true
	}
	if n, err := strconv.Atoi(seg); err == nil {
		if n > 0 {
			a.days = clampDays(n, 1)
		}
		return true
	}
	if _, ok := g.Dates.Parse(seg, false); ok {
		a.dates = append(a.dates, seg)
		return true
	}
	if n, ok := ParseRelativeDays(seg); ok {
		a.days = n
		return true
	}
	return false
}

// window folds date segments and date keys into a DateWindow, or nil when
// the tail carries no bound at all.
func (g Grammar) window(a args) *DateWindow {
	var w DateWindow

	switch len(a.dates) {
	case 0:
	case 1:
		w.Start, _ = g.Dates.Parse(a.dates[0], false)
		w.End, _ = g.Dates.Parse(a.dates[0], true)
	default:
		w.Start, _ = g.Dates.Parse(a.dates[0], false)
		w.End, _ = g.Dates.Parse(a.dates[len(a.dates)-1], true)
	}

	if v, ok := a.kv["range"]; ok {
		lo, hi, found := strings.Cut(v, "..")
		if found {
			w.Start, _ = g.Dates.Parse(lo, false)
			w.End, _ = g.Dates.Parse(hi, true)
		}
	}
	for _, k := range []string{"since", "from", "start"} {
		v, ok := a.kv[k]
		if !ok {
			continue
		}
		if d, ok := g.Dates.Parse(v, false); ok {
			w.Start = d
		} else if n, ok := ParseRelativeDays(v); ok {
			a.days = n
		}
	}
	for _, k := range []string{"until", "to", "end"} {
		if d, ok := g.Dates.Parse(a.kv[k], true); ok {
			w.End = d
		}
	}
	for _, k := range []string{"days", "d", "last"} {
		if n, ok := ParseRelativeDays(a.kv[k]); ok {
			a.days = n
		}
	}

	if w.Start == "" && w.End == "" {
		if a.days <= 0 {
			return nil
		}
		w.Days = a.days
	}
	return &w
}

func (g Grammar) parseMeds(a args) MedsFilter {
	f := MedsFilter{Window: g.window(a)}
	var names []string
	for _, w := range a.words() {
		switch strings.ToLower(w) {
		case "active", "current":
			f.ActiveOnly = true
		case "all":
			f.ActiveOnly = false
		default:
			names = append(names, w)
		}
	}
	if v, ok := a.kv["status"]; ok {
		f.ActiveOnly = strings.EqualFold(v, "active")
	}
	for _, k := range []string{"name", "drug"} {
		if v := a.kv[k]; v != "" {
			names = []string{v}
		}
	}
	f.Name = strings.Join(names, " ")
	return f
}

func parseProblems(a args) ProblemsFilter {
	f := ProblemsFilter{ActiveOnly: true}
	for _, w := range a.words() {
		switch strings.ToLower(w) {
		case "all", "inactive", "resolved":
			f.ActiveOnly = false
		case "active":
			f.ActiveOnly = true
		case "detailed", "detail", "details", "full":
			f.Detailed = true
		}
	}
	return f
}

// parseLabs applies the labs default policy: an explicit bound wins; named
// tests with no bound get their full history; no names and no bound means
// the last 14 days.
func (g Grammar) parseLabs(a args) LabsFilter {
	f := LabsFilter{Mode: LabsModeAll}
	for _, w := range a.words() {
		switch strings.ToLower(w) {
		case "last", "latest", "recent":
			f.Mode = LabsModeLast
		case "all":
			f.FullHistory = true
		default:
			f.Names = append(f.Names, w)
		}
	}
	for _, k := range []string{"test", "tests", "name", "names"} {
		if v := a.kv[k]; v != "" {
			f.Names = append(f.Names, strings.FieldsFunc(v, func(r rune) bool { return r == '+' || r == ',' })...)
		}
	}
	if v := a.kv["all"]; v == "1" || strings.EqualFold(v, "true") {
		f.FullHistory = true
	}

	f.Window = g.window(a)
	switch {
	case f.Window != nil:
		f.FullHistory = false
	case f.FullHistory:
	case len(f.Names) > 0:
		f.FullHistory = true
	default:
		f.Window = &DateWindow{Days: defaultLabsDays}
	}
	return f
}

func parseOrders(a args) OrdersFilter {
	f := OrdersFilter{Status: OrderStatusCurrent, Type: OrderTypeAll, Days: defaultOrdersDays}
	for _, w := range a.words() {
		lw := strings.ToLower(w)
		if st, ok := orderStatusAliases[lw]; ok {
			f.Status = st
		} else if t, ok := orderTypeAliases[lw]; ok && lw != "all" {
			f.Type = t
		}
	}
	if v, ok := a.kv["status"]; ok {
		f.Status = NormalizeOrderStatus(v)
	}
	if v, ok := a.kv["type"]; ok {
		f.Type = NormalizeOrderType(v)
	}
	if a.days > 0 {
		f.Days = a.days
	}
	if n, ok := ParseRelativeDays(a.kv["days"]); ok {
		f.Days = n
	}
	return f
}
