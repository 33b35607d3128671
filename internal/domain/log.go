package domain

import "time"

// Log levels.
const (
	LevelInfo    = "info"
	LevelWarn    = "warn"
	LevelError   = "error"
	LevelSuccess = "success"
)

// LogEntry represents a log line emitted during a deployment run.
type LogEntry struct {
	ID           int64
	ProjectID    string
	DeploymentID string
	Level        string
	Message      string
	CreatedAt    time.Time
}
