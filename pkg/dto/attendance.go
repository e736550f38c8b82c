package dto

// MarkRequest carries one attendance attempt: the primary frame plus an
// optional short frame sequence for the liveness check. All images are
// base64-encoded JPEG.
type MarkRequest struct {
	Image       string   `json:"image" binding:"required"`
	SpoofFrames []string `json:"spoof_frames,omitempty"`
	// EARValues is the per-frame eye aspect ratio series computed by the
	// capture client; only consulted when quick mode is off.
	EARValues []float64 `json:"ear_values,omitempty"`
}

type MarkResponse struct {
	Action      string   `json:"action"`
	SubjectID   string   `json:"subject_id"`
	Name        string   `json:"name,omitempty"`
	Time        string   `json:"time"`
	HoursWorked *float64 `json:"hours_worked,omitempty"`
	Confidence  float64  `json:"confidence"`
}

type TodayEntryResponse struct {
	SubjectID   string   `json:"subject_id"`
	Name        string   `json:"name"`
	PunchIn     string   `json:"punch_in"`
	PunchOut    *string  `json:"punch_out,omitempty"`
	HoursWorked *float64 `json:"hours_worked,omitempty"`
}

type HistoryEntryResponse struct {
	Date        string   `json:"date"`
	PunchIn     string   `json:"punch_in"`
	PunchOut    *string  `json:"punch_out,omitempty"`
	HoursWorked *float64 `json:"hours_worked,omitempty"`
}

type StatisticsResponse struct {
	SubjectID    string  `json:"subject_id"`
	Name         string  `json:"name"`
	DaysPresent  int     `json:"days_present"`
	TotalHours   float64 `json:"total_hours"`
	AverageHours float64 `json:"average_hours"`
}
