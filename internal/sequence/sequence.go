// Package sequence allocates human readable document codes such as JE-001.
//
// Codes are derived from the highest existing suffix within a scope, so allocation
// must run inside the unit of work that inserts the labelled row. The store takes a
// transaction scoped lock per scope and prefix before reading the maximum.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// Scope identifies the table whose codes share one counter.
type Scope string

const (
	ScopeJournalEntry    Scope = "journal_entries"
	ScopeProductTransfer Scope = "product_transfers"
	ScopeRequisition     Scope = "requisitions"
)

// DefaultPad is the minimum width of the numeric suffix.
const DefaultPad = 3

// Valid reports whether the scope is known.
func (s Scope) Valid() bool {
	switch s {
	case ScopeJournalEntry, ScopeProductTransfer, ScopeRequisition:
		return true
	}
	return false
}

// Store is implemented by transactional repositories that can allocate codes.
type Store interface {
	// LockSequence serialises allocators of the same scope and prefix until the
	// surrounding transaction ends.
	LockSequence(ctx context.Context, scope Scope, prefix string) error
	// MaxCodeSuffix returns the highest numeric suffix among PREFIX-N codes, zero if none.
	MaxCodeSuffix(ctx context.Context, scope Scope, prefix string) (int64, error)
}

var upper = cases.Upper(language.Und)

// NormalizePrefix trims and upper-cases a prefix.
func NormalizePrefix(prefix string) string {
	return upper.String(strings.TrimSpace(prefix))
}

// Next allocates the next code for scope and prefix. pad <= 0 uses DefaultPad.
func Next(ctx context.Context, store Store, scope Scope, prefix string, pad int) (string, error) {
	if !scope.Valid() {
		return "", fmt.Errorf("%w: unknown sequence scope %q", shared.ErrValidation, scope)
	}
	prefix = NormalizePrefix(prefix)
	if prefix == "" || strings.Contains(prefix, "-") {
		return "", fmt.Errorf("%w: invalid code prefix %q", shared.ErrValidation, prefix)
	}
	if err := store.LockSequence(ctx, scope, prefix); err != nil {
		return "", fmt.Errorf("sequence: lock %s/%s: %w", scope, prefix, err)
	}
	current, err := store.MaxCodeSuffix(ctx, scope, prefix)
	if err != nil {
		return "", fmt.Errorf("sequence: max %s/%s: %w", scope, prefix, err)
	}
	return Format(prefix, current+1, pad), nil
}

// Format renders PREFIX-NNN with the suffix left-padded to pad digits.
func Format(prefix string, n int64, pad int) string {
	if pad <= 0 {
		pad = DefaultPad
	}
	return fmt.Sprintf("%s-%0*d", prefix, pad, n)
}

// ParseSuffix extracts N from a PREFIX-N code. ok is false for codes of another prefix.
func ParseSuffix(code, prefix string) (int64, bool) {
	rest, found := strings.CutPrefix(code, prefix+"-")
	if !found || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// MaxSuffix scans codes and returns the highest suffix for prefix.
func MaxSuffix(codes []string, prefix string) int64 {
	var highest int64
	for _, code := range codes {
		if n, ok := ParseSuffix(code, prefix); ok && n > highest {
			highest = n
		}
	}
	return highest
}
