package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reference number prefixes.
const (
	PrefixRequisition   = "PR"
	PrefixRFQ           = "RFQ"
	PrefixPurchaseOrder = "PO"
)

const maxReferenceAttempts = 16

// ReferenceChecker reports whether a reference number is already taken.
// Implementations run inside the caller's transaction.
type ReferenceChecker interface {
	ReferenceExists(ctx context.Context, prefix, number string) (bool, error)
}

// ReferenceGenerator produces {PREFIX}-{yyyyMMddHHmmssfff} numbers, adding a
// random -XXXX suffix when the timestamp form is already taken. The unique
// index on the number column remains the final arbiter.
type ReferenceGenerator struct {
	now    func() time.Time
	suffix func() string
}

// NewReferenceGenerator returns a generator using clock now.
func NewReferenceGenerator(now func() time.Time) *ReferenceGenerator {
	if now == nil {
		now = time.Now
	}
	return &ReferenceGenerator{now: now, suffix: randomSuffix}
}

// Generate returns a reference number not yet known to checker.
func (g *ReferenceGenerator) Generate(ctx context.Context, checker ReferenceChecker, prefix string) (string, error) {
	base := FormatReference(prefix, g.now())
	candidate := base
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		taken, err := checker.ReferenceExists(ctx, prefix, candidate)
		if err != nil {
			return "", fmt.Errorf("procurement: check reference %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + g.suffix()
	}
	return "", fmt.Errorf("%w: could not allocate %s reference number", ErrConflict, prefix)
}

// FormatReference renders prefix and the UTC timestamp with millisecond precision.
func FormatReference(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s-%s%03d", prefix, at.Format("20060102150405"), at.Nanosecond()/int(time.Millisecond))
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}
