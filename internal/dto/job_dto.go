package dto

const (
	PushTypeStatus    = "status"
	PushTypeHeartbeat = "heartbeat"
	PushTypePong      = "pong"
	PushTypePing      = "ping"
)

// PushMessage is one frame on the job status push channel, both directions.
type PushMessage struct {
	Type     string `json:"type"`
	Status   string `json:"status,omitempty"`
	Progress *int   `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// JobStatusResponse is the polling endpoint's body.
type JobStatusResponse struct {
	JobId           string `json:"job_id,omitempty"`
	Status          string `json:"status"`
	ProcessedChunks int    `json:"processed_chunks"`
	TotalChunks     int    `json:"total_chunks"`
	Progress        *int   `json:"progress,omitempty"`
	Message         string `json:"message,omitempty"`
}

type UploadDocumentResponse struct {
	JobId    string `json:"job_id"`
	TargetId string `json:"target_id"`
	Filename string `json:"filename"`
}
