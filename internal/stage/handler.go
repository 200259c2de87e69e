package stage

import (
	"context"
	"log/slog"

	"loom/internal/queue"
)

// Handler describes the contract the workflow executor needs from each stage.
// Prepare validates inputs and may annotate the record; Execute performs the
// stage body. Both receive the record freshly loaded for this dispatch.
type Handler interface {
	Prepare(context.Context, *queue.Record) error
	Execute(context.Context, *queue.Record) error
	HealthCheck(context.Context) Health
}

// ArtifactChecker reports whether the durable output a stage produces already
// exists for a record. The executor consults it before marking a record
// failed: a stage body that died after its artifact write is not a failure.
// The returned ref names the artifact for logging when known.
type ArtifactChecker interface {
	ArtifactExists(ctx context.Context, recordID int64) (exists bool, ref string, err error)
}

// LoggerAware lets a handler receive the per-dispatch logger so stage output
// lands in the record's run log.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
