package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/ws"
)

// Log sources.
const (
	SourceGenerate = "generate"
	SourceDeploy   = "deploy"
)

// Log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Service handles log persistence and streaming.
type Service struct {
	repo   repository.LogRepository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a log service.
func New(repo repository.LogRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger, now: time.Now}
}

// Append stores and broadcasts a log entry.
func (s Service) Append(ctx context.Context, entry domain.ProjectLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// Emit records a pipeline event. Persistence failures are logged, never returned.
func (s Service) Emit(ctx context.Context, projectID, source, level, message string, metadata map[string]any) {
	entry := domain.ProjectLog{
		ProjectID: projectID,
		Source:    source,
		Level:     level,
		Message:   message,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Warn("failed to encode log metadata", "project_id", projectID, "error", err)
		} else {
			entry.Metadata = raw
		}
	}
	if err := s.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to persist project log", "project_id", projectID, "source", source, "error", err)
	}
}

// List returns logs for a project.
func (s Service) List(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	return s.repo.ListLogsByProject(ctx, projectID, limit, offset)
}

func (s Service) broadcast(entry domain.ProjectLog) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.ProjectID, data)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEntry formats a project log for streaming payloads.
func MarshalEntry(entry domain.ProjectLog) ([]byte, error) {
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = json.RawMessage(entry.Metadata)
	}
	payload := map[string]any{
		"project_id": entry.ProjectID,
		"source":     entry.Source,
		"level":      entry.Level,
		"message":    entry.Message,
		"metadata":   metadata,
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
		"id":         entry.ID,
	}
	return json.Marshal(payload)
}
