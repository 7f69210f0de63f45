// Package stage defines the processing-function boundary between the
// orchestration core and the OCR/translation collaborators. The core
// treats processors as black boxes: artifact in, artifact or typed
// failure out.
package stage

import (
	"context"
	"fmt"

	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/result"
)

// Input is what a stage consumes: the claimed job's current input
// artifact and its reference.
type Input struct {
	JobID    string
	Ref      string
	Artifact *result.Artifact
}

// Output is what a stage produces on success.
type Output struct {
	Artifact *result.Artifact
}

// Processor executes one stage for one job. Implementations are
// expected to be long-running and must honor ctx cancellation, which
// the worker uses to enforce the per-stage deadline.
type Processor interface {
	Process(ctx context.Context, in *Input) (*Output, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, in *Input) (*Output, error)

func (f ProcessorFunc) Process(ctx context.Context, in *Input) (*Output, error) {
	return f(ctx, in)
}

// Registry maps stages to their processors.
type Registry map[job.Stage]Processor

// Get resolves the processor for a stage.
func (r Registry) Get(s job.Stage) (Processor, error) {
	p, ok := r[s]
	if !ok {
		return nil, fmt.Errorf("no processor registered for stage %s", s)
	}
	return p, nil
}
