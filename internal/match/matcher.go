package match

import (
	"errors"
	"math"

	"github.com/your-org/faceattend/internal/models"
)

var (
	// ErrNoMatch means the nearest enrolled identity is farther than the
	// tolerance. The returned Match still carries the best candidate's
	// distance and confidence for diagnostics.
	ErrNoMatch = errors.New("face not recognized")

	// ErrEmptyRegistry means there is nothing enrolled to match against.
	ErrEmptyRegistry = errors.New("no enrolled identities")
)

// Match is the result of a nearest-neighbor lookup. Confidence is
// 1 − distance: a monotonic score, not a calibrated probability.
type Match struct {
	ID         string
	Kind       models.RegistryKind
	Role       models.Role
	Active     bool
	Distance   float64
	Confidence float64
}

// Identify scans every entry of the given registries and returns the one with
// the minimum Euclidean distance to the probe, accepting iff
// distance ≤ tolerance. Passing one registry gives a scoped search; passing
// both gives the unified search used for attendance.
//
// When two entries share the exact minimum distance, the lexicographically
// smallest id wins, so matching is reproducible regardless of map order.
func Identify(probe []float32, tolerance float64, registries ...*Registry) (Match, error) {
	best := Match{Distance: math.Inf(1)}
	scanned := 0

	for _, reg := range registries {
		reg.mu.RLock()
		for id, ident := range reg.entries {
			d, ok := euclidean(probe, ident.Embedding)
			if !ok {
				continue
			}
			scanned++
			if d < best.Distance || (d == best.Distance && id < best.ID) {
				best = Match{
					ID:       id,
					Kind:     reg.kind,
					Role:     ident.Role,
					Active:   ident.Active,
					Distance: d,
				}
			}
		}
		reg.mu.RUnlock()
	}

	if scanned == 0 {
		return Match{}, ErrEmptyRegistry
	}

	best.Confidence = 1 - best.Distance
	if best.Distance > tolerance {
		return best, ErrNoMatch
	}
	return best, nil
}

// euclidean returns the L2 distance between two vectors, or ok=false on a
// dimension mismatch.
func euclidean(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), true
}
