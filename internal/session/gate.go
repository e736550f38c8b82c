package session

import (
	"context"
	"sync"

	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/models"
)

// Gate ties the token authority to the privileged-actor registry: it decides
// who may enroll new privileged actors and turns a face match into a session.
type Gate struct {
	auth   *Authority
	admins *match.Registry

	// mu serializes privileged enrollments so the bootstrap grant can be
	// claimed at most once.
	mu sync.Mutex
}

func NewGate(auth *Authority, admins *match.Registry) *Gate {
	return &Gate{auth: auth, admins: admins}
}

// AuthorizeEnroll applies the bootstrap rule. With an empty privileged
// registry the very next enrollment is granted unconditionally (bootstrap is
// true and the claims are empty). Once any privileged actor exists, enrolling
// another requires a valid session at the top privilege tier.
//
// The result is advisory: the check races with concurrent enrollments, so
// callers must go through EnrollAdmin for the grant that actually counts.
func (g *Gate) AuthorizeEnroll(token string) (Claims, bool, error) {
	if g.admins.Count() == 0 {
		return Claims{}, true, nil
	}

	claims, err := g.auth.RequireRole(token, models.RoleSuperAdmin)
	if err != nil {
		return claims, false, err
	}
	return claims, false, nil
}

// EnrollAdmin authorizes and enrolls a privileged actor in one step. The
// lock spans the bootstrap check and the enrollment itself, so two
// concurrent first enrollments cannot both claim the bootstrap grant: the
// loser sees a populated registry and needs a super admin token like anyone
// else.
func (g *Gate) EnrollAdmin(ctx context.Context, token, id string, requested models.Role, samples [][]float32) (models.Identity, Claims, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	claims, bootstrap, err := g.AuthorizeEnroll(token)
	if err != nil {
		return models.Identity{}, claims, false, err
	}

	role := g.EnrollRole(requested, bootstrap)
	ident, err := g.admins.Enroll(ctx, id, role, samples)
	if err != nil {
		return models.Identity{}, claims, bootstrap, err
	}
	return ident, claims, bootstrap, nil
}

// EnrollRole resolves the role a new privileged actor receives. The bootstrap
// enrollment always gets the highest privilege regardless of what was asked
// for; later enrollments default to admin.
func (g *Gate) EnrollRole(requested models.Role, bootstrap bool) models.Role {
	if bootstrap {
		return models.RoleSuperAdmin
	}
	if requested == models.RoleSuperAdmin {
		return models.RoleSuperAdmin
	}
	return models.RoleAdmin
}

// Authenticate matches a probe embedding against the privileged registry
// only, verifies the actor is active, and mints a session.
func (g *Gate) Authenticate(probe []float32, tolerance float64) (Session, match.Match, error) {
	m, err := match.Identify(probe, tolerance, g.admins)
	if err != nil {
		return Session{}, m, err
	}
	if !m.Active {
		return Session{}, m, ErrInactive
	}

	sess, err := g.auth.Mint(m.ID, m.Role)
	if err != nil {
		return Session{}, m, err
	}
	return sess, m, nil
}
