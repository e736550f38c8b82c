package dto

// EnrollAdminRequest registers a privileged actor. While the admin registry
// is empty the request needs no token and the role is forced to super_admin.
type EnrollAdminRequest struct {
	ID     string   `json:"id" binding:"required"`
	Name   string   `json:"name" binding:"required"`
	Email  string   `json:"email"`
	Role   string   `json:"role"`
	Images []string `json:"images" binding:"required"`
}

// AuthenticateRequest logs an admin in by face. SpoofFrames and EARValues
// feed the same liveness checks as an attendance mark.
type AuthenticateRequest struct {
	Image       string    `json:"image" binding:"required"`
	SpoofFrames []string  `json:"spoof_frames,omitempty"`
	EARValues   []float64 `json:"ear_values,omitempty"`
}

type SessionResponse struct {
	Token     string  `json:"token"`
	ActorID   string  `json:"actor_id"`
	Role      string  `json:"role"`
	ExpiresIn float64 `json:"expires_in_seconds"`
}

type SessionStatusResponse struct {
	Valid            string  `json:"status"`
	ActorID          string  `json:"actor_id,omitempty"`
	Role             string  `json:"role,omitempty"`
	RemainingSeconds float64 `json:"remaining_seconds,omitempty"`
}

type AdminResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	Active     bool   `json:"active"`
	Registered bool   `json:"registered"`
	CreatedAt  string `json:"created_at"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}
