package models

import "time"

// Subject is a person tracked by attendance (the original system's employee).
type Subject struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	Department string    `json:"department" db:"department"`
	Registered bool      `json:"registered" db:"registered"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Admin is a privileged actor. Face enrollment lives in the admins registry;
// this row carries directory data and the active flag.
type Admin struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	Role       Role      `json:"role" db:"role"`
	Active     bool      `json:"active" db:"active"`
	Registered bool      `json:"registered" db:"registered"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
