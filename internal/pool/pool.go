// Package pool holds the static pool of test identities and the mutable
// reservation side table that records which worker holds which identity.
//
// The store performs no locking of its own. Every read-modify-write of the
// reservation file must run while the caller holds the pool lock.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfig marks a pool definition that is missing or unreadable.
	ErrConfig = errors.New("identity pool configuration error")

	// ErrPoolExhausted is returned when no identity of a role is free.
	ErrPoolExhausted = errors.New("identity pool exhausted")
)

// Role is the authorization role of a test identity.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// Roles lists every known role in a stable order.
var Roles = []Role{RoleAdmin, RoleEditor, RoleViewer}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanWrite reports whether the role may create items.
func (r Role) CanWrite() bool { return r == RoleAdmin || r == RoleEditor }

// Identity is one test account.
type Identity struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"-"`
}

// Pool is the static identity definition keyed by role. Slice order is the
// declaration order of the pool file.
type Pool map[Role][]Identity

// Lookup finds an identity by email.
func (p Pool) Lookup(email string) (Identity, bool) {
	for _, role := range p.roles() {
		for _, id := range p[role] {
			if strings.EqualFold(id.Email, email) {
				return id, true
			}
		}
	}
	return Identity{}, false
}

// Size returns the number of identities across all roles.
func (p Pool) Size() int {
	n := 0
	for _, ids := range p {
		n += len(ids)
	}
	return n
}

func (p Pool) roles() []Role {
	roles := make([]Role, 0, len(p))
	for r := range p {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Reservations maps an identity email to the id of the worker holding it.
// A missing key means the identity is free.
type Reservations map[string]string

// Clone returns an independent copy.
func (r Reservations) Clone() Reservations {
	out := make(Reservations, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FindFree returns the first identity of role, in declaration order, that
// has no reservation.
func FindFree(p Pool, reserved Reservations, role Role) (Identity, bool) {
	for _, id := range p[role] {
		if _, taken := reserved[id.Email]; !taken {
			return id, true
		}
	}
	return Identity{}, false
}

// Store is the durable representation of the pool and its reservations.
type Store interface {
	LoadPool() (Pool, error)
	LoadReservations() Reservations
	SaveReservations(Reservations) error
	ResetAll() (int, error)
}
