package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentTypeTaskQueue is the only content variant defined today.
const ContentTypeTaskQueue = "TaskQueue"

// Recognized state keys.
const (
	KeyProgress = "progress"
	KeyPercent  = "percent"
	// Create-time only: per-app attribution and icon override.
	KeyBundleID = "bundle_id"
	KeyLogo     = "logo"
)

// TaskQueue is the payload of a "TaskQueue" activity.
type TaskQueue struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	TaskName string            `json:"taskName"`
	TaskType string            `json:"taskType"`
	TaskIcon string            `json:"taskIcon"`
	State    map[string]string `json:"state"`
}

// Content is a tagged union encoded as {"type": "...", "data": {...}}.
//
// New variants get a new pointer field and a case in UnmarshalJSON; old
// clients keep working because the envelope never changes.
type Content struct {
	TaskQueue *TaskQueue
}

// Type returns the variant name, or "" when the union is empty.
func (c Content) Type() string {
	if c.TaskQueue != nil {
		return ContentTypeTaskQueue
	}
	return ""
}

type contentEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch {
	case c.TaskQueue != nil:
		data, err := json.Marshal(c.TaskQueue)
		if err != nil {
			return nil, err
		}
		return json.Marshal(contentEnvelope{Type: ContentTypeTaskQueue, Data: data})
	default:
		return []byte("null"), nil
	}
}

func (c *Content) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*c = Content{}
		return nil
	}
	var env contentEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Type {
	case ContentTypeTaskQueue:
		var tq TaskQueue
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &tq); err != nil {
				return fmt.Errorf("activityContent.data: %w", err)
			}
		}
		*c = Content{TaskQueue: &tq}
		return nil
	default:
		return fmt.Errorf("%w: unknown activity content type %q", ErrInvalidRequest, env.Type)
	}
}

// CreateRequest starts (or replaces) the live activity.
type CreateRequest struct {
	Version uint32  `json:"activityContentVersion"`
	Content Content `json:"activityContent"`
}

// UnmarshalJSON accepts both the camelCase keys and the snake_case keys
// (activity_content_v / activity_content) sent by older host bridges.
func (r *CreateRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Version       *uint32  `json:"activityContentVersion"`
		LegacyVersion *uint32  `json:"activity_content_v"`
		Content       *Content `json:"activityContent"`
		LegacyContent *Content `json:"activity_content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := CreateRequest{}
	switch {
	case raw.Version != nil:
		out.Version = *raw.Version
	case raw.LegacyVersion != nil:
		out.Version = *raw.LegacyVersion
	}
	switch {
	case raw.Content != nil:
		out.Content = *raw.Content
	case raw.LegacyContent != nil:
		out.Content = *raw.LegacyContent
	}
	*r = out
	return nil
}

// Validate reports requests that cannot start an activity.
func (r CreateRequest) Validate() error {
	if r.Content.TaskQueue == nil {
		return fmt.Errorf("%w: activityContent is missing", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Content.TaskQueue.ID) == "" {
		return fmt.Errorf("%w: activityContent.data.id is empty", ErrInvalidRequest)
	}
	return nil
}

// State returns the progress state map of the request content.
func (r CreateRequest) State() map[string]string {
	if r.Content.TaskQueue == nil {
		return nil
	}
	return r.Content.TaskQueue.State
}

// UpdateRequest carries a new progress state for the active activity.
type UpdateRequest struct {
	State map[string]string `json:"state"`
}
