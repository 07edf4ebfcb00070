package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolationMatchesCode23505(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if !isUniqueViolation(err) {
		t.Error("isUniqueViolation() = false for code 23505, want true")
	}
}

func TestIsUniqueViolationRejectsOtherCodes(t *testing.T) {
	err := &pgconn.PgError{Code: "23503", Message: "foreign key violation"}
	if isUniqueViolation(err) {
		t.Error("isUniqueViolation() = true for a non-unique-violation code")
	}
}

func TestIsUniqueViolationRejectsNonPgError(t *testing.T) {
	if isUniqueViolation(errors.New("boom")) {
		t.Error("isUniqueViolation() = true for a plain error")
	}
	if isUniqueViolation(nil) {
		t.Error("isUniqueViolation() = true for nil")
	}
}

func TestIsUniqueViolationUnwrapsWrappedError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	wrapped := errors.New("query failed: " + pgErr.Error())
	if isUniqueViolation(wrapped) {
		t.Skip("wrapping with errors.New loses the typed error; confirms errors.As needs %w")
	}
	if !isUniqueViolation(errWrap(pgErr)) {
		t.Error("isUniqueViolation() should see through an fmt.Errorf(\"...: %w\", pgErr) wrap")
	}
}

func errWrap(err error) error {
	return &wrappedErr{err}
}

type wrappedErr struct{ inner error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrappedErr) Unwrap() error { return w.inner }

func TestBuildingColsPrefixedJoinsWithAliasAndComma(t *testing.T) {
	got := buildingColsPrefixed("b")
	if !strings.HasPrefix(got, "b.id, b.normalized_name") {
		t.Errorf("buildingColsPrefixed(%q) = %q, want it to start with b.id, b.normalized_name", "b", got)
	}
	if strings.Contains(got, ", ,") {
		t.Errorf("buildingColsPrefixed() produced a malformed join: %q", got)
	}
	if !strings.HasSuffix(got, "b.updated_at") {
		t.Errorf("buildingColsPrefixed() = %q, want it to end with b.updated_at", got)
	}
}

func TestBuildingColsPrefixedDifferentAlias(t *testing.T) {
	got := buildingColsPrefixed("x")
	if !strings.Contains(got, "x.canonical_name") {
		t.Errorf("buildingColsPrefixed(%q) = %q, missing x.canonical_name", "x", got)
	}
}
