package chart

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ehr/scribe/internal/platform/db"
)

func TestWhere_NumbersPlaceholders(t *testing.T) {
	w := &where{}
	w.add("patient_id = ?", "p1")
	w.add("status IN ('active', 'on-hold')")
	w.add("(code_display ILIKE ANY(?) OR code_value = ANY(?))", []string{"%a1c%"}, []string{"a1c"})

	want := " WHERE patient_id = $1 AND status IN ('active', 'on-hold') AND (code_display ILIKE ANY($2) OR code_value = ANY($3))"
	if got := w.String(); got != want {
		t.Errorf("unexpected clause:\n got %s\nwant %s", got, want)
	}
	if len(w.args) != 3 {
		t.Errorf("expected 3 args, got %d", len(w.args))
	}
	if (&where{}).String() != "" {
		t.Error("empty where should render nothing")
	}
}

func TestLikePatterns(t *testing.T) {
	got := likePatterns([]string{" a1c ", "", "ldl"})
	if diff := cmp.Diff([]string{"%a1c%", "%ldl%"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLikePatterns_EscapesWildcards(t *testing.T) {
	got := likePatterns([]string{"50%", "vit_d", `a\b`})
	want := []string{`%50\%%`, `%vit\_d%`, `%a\\b%`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_QualifiesWithTenant(t *testing.T) {
	if got := table(context.Background(), "observation"); got != "observation" {
		t.Errorf("expected bare table without tenant, got %q", got)
	}
	ctx, err := db.WithTenant(context.Background(), "clinic_a")
	if err != nil {
		t.Fatalf("WithTenant: %v", err)
	}
	if got := table(ctx, "observation"); got != "tenant_clinic_a.observation" {
		t.Errorf("expected qualified table, got %q", got)
	}
}
