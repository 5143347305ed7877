// Package field implements the radiance fields queried by the renderer. A
// field maps the Gaussians of sampled ray intervals (and optionally the ray
// view directions) to a density and a color for every interval.
package field

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
	"mipnerf/pkg/prng"
)

// PredictOptions controls a single field evaluation
type PredictOptions struct {
	// ComputeNormals requests normals derived from the density gradient.
	// Without it Prediction.Normals holds NaN vectors.
	ComputeNormals bool

	// TrainFrac is training progress in [0, 1], used for frequency annealing
	TrainFrac float64
}

// Prediction holds one value per sample, row-major by ray
type Prediction struct {
	// RGB is nil for a density-only evaluation
	RGB     []models.RGB
	Density []float64
	Normals []r3.Vec
}

// Field is anything that can be evaluated on the samples of a level.
//
// key may be nil, in which case the evaluation is deterministic. viewdirs
// holds one direction per ray or is nil.
type Field interface {
	Predict(key *prng.Key, samples *models.Samples, viewdirs []r3.Vec, opts PredictOptions) (*Prediction, error)
}

func checkInputs(samples *models.Samples, viewdirs []r3.Vec) error {
	if err := samples.Validate(); err != nil {
		return err
	}
	if viewdirs != nil && len(viewdirs) != samples.NumRays {
		return fmt.Errorf("%w: %d view directions for %d rays", models.ErrShapeMismatch, len(viewdirs), samples.NumRays)
	}
	return nil
}

func nanNormals(n int) []r3.Vec {
	normals := make([]r3.Vec, n)
	for i := range normals {
		normals[i] = models.NaNVec()
	}
	return normals
}

// ConstantField predicts the same density and color everywhere.
type ConstantField struct {
	Density float64
	Color   models.RGB
}

// Predict implements Field. A constant density has no gradient, so normals
// are always NaN.
func (c ConstantField) Predict(_ *prng.Key, samples *models.Samples, viewdirs []r3.Vec, _ PredictOptions) (*Prediction, error) {
	if err := checkInputs(samples, viewdirs); err != nil {
		return nil, fmt.Errorf("constant field: %w", err)
	}
	n := samples.NumRays * samples.NumSamples
	pred := &Prediction{
		RGB:     make([]models.RGB, n),
		Density: make([]float64, n),
		Normals: nanNormals(n),
	}
	for i := 0; i < n; i++ {
		pred.RGB[i] = c.Color
		pred.Density[i] = c.Density
	}
	return pred, nil
}
