// Package source connects external signal providers to the pipeline. Two
// trigger styles are supported and feed the same ingest path: an HTTP pull
// client that polls providers on an interval, and a NATS subscriber that
// receives pushed batches. Normalization downstream is trigger-agnostic.
package source

import (
	"context"

	"github.com/yourorg/strategy-advisor/internal/model"
)

// IngestFunc accepts one raw batch from any source. The wiring layer
// supplies it: guard check, normalization, storage, and engine triggering
// all happen behind it.
type IngestFunc func(ctx context.Context, batch model.RawBatch) error
