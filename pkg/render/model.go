package render

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
	"mipnerf/pkg/config"
	"mipnerf/pkg/field"
	"mipnerf/pkg/prng"
	"mipnerf/pkg/sampling"
)

// RenderFunc renders a batch of rays and returns one rendering per level,
// coarsest first. A nil key renders deterministically.
type RenderFunc func(key *prng.Key, rays *models.Rays) ([]*models.Rendering, error)

// Model is the coarse-to-fine renderer. The first level samples evenly
// between the ray bounds; every further level resamples where the previous
// level placed its weight. All levels query the same field.
type Model struct {
	cfg       config.ModelConfig
	field     field.Field
	space     sampling.Space
	shape     sampling.RayShape
	composite CompositeOptions
}

// NewModel creates a model over f.
func NewModel(cfg config.ModelConfig, f field.Field) (*Model, error) {
	if cfg.NumLevels < 1 || cfg.NumSamples < 1 {
		return nil, fmt.Errorf("%w: need at least one level and one sample, got %d and %d",
			config.ErrInvalidConfig, cfg.NumLevels, cfg.NumSamples)
	}
	space, err := sampling.ParseSpace(cfg.Spacing)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	shape, err := sampling.ParseRayShape(cfg.RayShape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	depth, err := ParseDepthMode(cfg.DepthMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return &Model{
		cfg:   cfg,
		field: f,
		space: space,
		shape: shape,
		composite: CompositeOptions{
			WhiteBackground: cfg.WhiteBackground,
			DepthMode:       depth,
		},
	}, nil
}

// Render runs every level on rays. trainFrac in [0, 1] drives the resample
// padding schedule and the field's frequency annealing.
//
// The key is only used when the model is randomized. Every level derives
// its own sampling and field keys from it.
func (m *Model) Render(key *prng.Key, rays *models.Rays, trainFrac float64) ([]*models.Rendering, error) {
	if err := rays.Validate(); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if rays.Len() == 0 {
		return m.emptyRenderings(), nil
	}
	if !m.cfg.Randomized {
		key = nil
	}

	viewdirs := rays.ViewDirs
	if viewdirs == nil {
		viewdirs = make([]r3.Vec, rays.Len())
		for i, d := range rays.Directions {
			viewdirs[i] = r3.Unit(d)
		}
	}
	opts := field.PredictOptions{
		ComputeNormals: m.cfg.ComputeNormals,
		TrainFrac:      trainFrac,
	}

	renderings := make([]*models.Rendering, 0, m.cfg.NumLevels)
	var samples *models.Samples
	for level := 0; level < m.cfg.NumLevels; level++ {
		var sampleKey, fieldKey *prng.Key
		if key != nil {
			k0, k1 := key.FoldIn(uint64(level)).Split()
			sampleKey, fieldKey = &k0, &k1
		}

		var err error
		if level == 0 {
			samples, err = sampling.SampleAlongRays(sampleKey, rays, m.cfg.NumSamples, m.space, m.shape, m.cfg.SingleJitter)
		} else {
			prev := renderings[level-1]
			padding := m.cfg.ResamplePadding(trainFrac)
			samples, err = sampling.ResampleAlongRays(sampleKey, rays, samples, prev.Weights, m.shape, padding, m.cfg.SingleJitter)
		}
		if err != nil {
			return nil, fmt.Errorf("render level %d: %w", level, err)
		}

		pred, err := m.field.Predict(fieldKey, samples, viewdirs, opts)
		if err != nil {
			return nil, fmt.Errorf("render level %d: %w", level, err)
		}
		weights, err := ComputeAlphaWeights(pred.Density, samples.TVals, rays.Directions, samples.NumSamples, m.cfg.OpaqueBackground)
		if err != nil {
			return nil, fmt.Errorf("render level %d: %w", level, err)
		}
		r, err := VolumetricRendering(pred, weights, samples, m.composite)
		if err != nil {
			return nil, fmt.Errorf("render level %d: %w", level, err)
		}
		renderings = append(renderings, r)
	}
	return renderings, nil
}

// emptyRenderings is the result of rendering a batch without rays.
func (m *Model) emptyRenderings() []*models.Rendering {
	renderings := make([]*models.Rendering, m.cfg.NumLevels)
	for i := range renderings {
		renderings[i] = &models.Rendering{
			RGB:            []models.RGB{},
			Acc:            []float64{},
			DistanceMean:   []float64{},
			DistanceMedian: []float64{},
			Normals:        []r3.Vec{},
			NumSamples:     m.cfg.NumSamples,
			TVals:          []float64{},
			Weights:        []float64{},
		}
	}
	return renderings
}

// RenderFunc binds the model to a fixed training progress.
func (m *Model) RenderFunc(trainFrac float64) RenderFunc {
	return func(key *prng.Key, rays *models.Rays) ([]*models.Rendering, error) {
		return m.Render(key, rays, trainFrac)
	}
}
