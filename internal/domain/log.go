package domain

import "time"

// ProjectLog represents a pipeline event emitted while generating or deploying a project.
type ProjectLog struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	Source    string    `json:"source"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
