package dto

// EnrollSubjectRequest registers a subject from one or more base64 JPEG
// photos. The stored face template is the centroid of the sample embeddings.
type EnrollSubjectRequest struct {
	ID         string   `json:"id" binding:"required"`
	Name       string   `json:"name" binding:"required"`
	Email      string   `json:"email"`
	Department string   `json:"department"`
	Images     []string `json:"images" binding:"required"`
}

type SubjectResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	Registered bool   `json:"registered"`
	CreatedAt  string `json:"created_at"`
}
