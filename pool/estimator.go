package pool

import (
	"context"

	"github.com/use-agent/tabhost/engine"
)

// bytesPerPixel models one ARGB framebuffer.
const bytesPerPixel = 4

// Estimator approximates an engine's memory footprint in bytes.
type Estimator interface {
	Estimate(ctx context.Context, e engine.Engine) (int64, error)
}

// ViewportEstimator sizes an engine as one framebuffer of its visible
// viewport. It is a heuristic for deciding when to trim, not accounting.
type ViewportEstimator struct{}

func (ViewportEstimator) Estimate(ctx context.Context, e engine.Engine) (int64, error) {
	w, h, err := e.Viewport(ctx)
	if err != nil {
		return 0, err
	}
	if w < 0 || h < 0 {
		return 0, nil
	}
	return int64(w) * int64(h) * bytesPerPixel, nil
}
