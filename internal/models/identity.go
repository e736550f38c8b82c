package models

import (
	"time"
)

// Role is the privilege tier attached to an enrolled identity.
type Role string

const (
	RoleSubject    Role = "subject"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// RegistryKind names one of the two disjoint enrollment namespaces.
type RegistryKind string

const (
	RegistrySubjects RegistryKind = "subjects"
	RegistryAdmins   RegistryKind = "admins"
)

// Identity is an enrolled face: one centroid embedding per id per registry.
type Identity struct {
	ID        string       `json:"id" db:"id"`
	Kind      RegistryKind `json:"kind" db:"registry"`
	Role      Role         `json:"role" db:"role"`
	Active    bool         `json:"active" db:"active"`
	Embedding []float32    `json:"-" db:"embedding"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
