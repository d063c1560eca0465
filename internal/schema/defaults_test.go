package schema

import (
	"testing"
	"time"
)

func TestResolveNeverOverridesExplicitValue(t *testing.T) {
	r := NewDefaultRegistry()
	r.Register("ServerUser", "Warnings", Literal(int64(5)))

	if _, ok := r.Resolve("serveruser", "warnings", Record{"warnings": int64(0)}); ok {
		t.Fatalf("explicit zero value should win")
	}
	v, ok := r.Resolve("serveruser", "warnings", Record{"warnings": nil})
	if !ok || v != int64(5) {
		t.Fatalf("v=%v ok=%v, want 5", v, ok)
	}
}

func TestApplyEvaluatesRecordDefaultsLast(t *testing.T) {
	r := NewDefaultRegistry()
	RegisterBuiltinDefaults(r)

	rec := Record{"user_id": "42", "server_id": int64(7)}
	filled := r.Apply(TableServerUser, rec)
	if len(filled) != 2 {
		t.Fatalf("filled=%v, want join_date and id", filled)
	}
	if rec.GetString("id") != "42_7" {
		t.Fatalf("id=%v", rec["id"])
	}
	if rec.GetTime("join_date").IsZero() {
		t.Fatalf("join_date not filled")
	}

	explicit := Record{"id": "custom", "user_id": "1", "server_id": int64(2), "join_date": time.Unix(0, 0).UTC()}
	if filled := r.Apply(TableServerUser, explicit); len(filled) != 0 {
		t.Fatalf("filled=%v, want none", filled)
	}
	if explicit["id"] != "custom" {
		t.Fatalf("id overwritten: %v", explicit["id"])
	}
}

func TestMarkerDoesNotReplaceBoundFunc(t *testing.T) {
	r := NewDefaultRegistry()
	r.Register("user", "global_join_date", Now())
	r.Register("user", "global_join_date", FuncMarker("now"))

	d, ok := r.Lookup("user", "global_join_date")
	if !ok || !d.Bound() {
		t.Fatalf("bound default lost: %+v", d)
	}

	if r.BindMarker("pokedexentry", "caught_at", "missing") {
		t.Fatalf("unknown marker should not bind")
	}
	if !r.BindMarker("pokedexentry", "caught_at", "now") {
		t.Fatalf("known marker should bind")
	}
	if v, ok := r.Resolve("pokedexentry", "caught_at", Record{}); !ok || v == nil {
		t.Fatalf("bound marker did not resolve")
	}
}

func TestDefaultSQLRoundTrip(t *testing.T) {
	cases := []struct {
		def  Default
		typ  LogicalType
		sql  string
		back any
	}{
		{Literal("it's"), TypeString, "'it''s'", "it's"},
		{Literal(true), TypeBoolean, "1", true},
		{Literal(int64(3)), TypeInteger, "3", int64(3)},
	}
	for _, tc := range cases {
		got, ok := tc.def.SQL()
		if !ok || got != tc.sql {
			t.Fatalf("SQL()=%q ok=%v, want %q", got, ok, tc.sql)
		}
		parsed := ParseDefaultSQL(got, tc.typ)
		if parsed.Kind() != DefaultLiteral || parsed.Value() != tc.back {
			t.Fatalf("ParseDefaultSQL(%q)=%v, want %v", got, parsed.Value(), tc.back)
		}
	}

	if _, ok := Now().SQL(); ok {
		t.Fatalf("func defaults must not render into DDL")
	}
	if !ParseDefaultSQL("NULL", TypeText).IsZero() {
		t.Fatalf("NULL should parse to no default")
	}
}
