// Package result stores processing artifacts: the submitted document,
// the OCR output consumed by translation, and the final translated
// result callers fetch through the status API.
package result

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("artifact not found")

// Artifact is an opaque processing payload plus transport metadata.
// Meta carries stage side-channel values such as OCR confidence.
type Artifact struct {
	Data        []byte            `json:"data"`
	ContentType string            `json:"content_type"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Store holds artifacts keyed by reference. Put is idempotent,
// last-write-wins.
type Store interface {
	Put(ctx context.Context, key string, artifact *Artifact) error
	Get(ctx context.Context, key string) (*Artifact, error)
	Close() error
}

// References are deterministic per job and stage so that duplicate
// outcome reports overwrite the same key instead of leaking copies.

// SourceRef is the key of the originally submitted document.
func SourceRef(jobID string) string {
	return "artifact:" + jobID + ":source"
}

// StageRef is the key of the artifact produced by a stage.
func StageRef(jobID, stage string) string {
	return "artifact:" + jobID + ":" + strings.ToLower(stage)
}

// ResultRef is the key of a job's final artifact.
func ResultRef(jobID string) string {
	return "result:" + jobID
}
