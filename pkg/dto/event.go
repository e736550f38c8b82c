package dto

// WSEvent is the envelope pushed to WebSocket clients when a mark lands.
type WSEvent struct {
	Type string       `json:"type"`
	Data MarkResponse `json:"data"`
}

type ActivityResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	TargetID  string `json:"target_id,omitempty"`
	CreatedAt string `json:"created_at"`
}
