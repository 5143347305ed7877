package field

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
	"mipnerf/pkg/config"
	"mipnerf/pkg/encoding"
	"mipnerf/pkg/prng"
)

// normalEps bounds the squared norm used when normalising density gradients.
const normalEps = 1.0 / (1 << 23)

// MLP is the mip-NeRF field: a ReLU trunk over the integrated positional
// encoding of every sample predicts density, and an optional view-dependent
// branch predicts color.
type MLP struct {
	cfg        config.MLPConfig
	activation func(float64) float64

	trunk      []*dense
	density    *dense
	bottleneck *dense   // nil without view directions
	views      []*dense // empty without view directions
	rgb        *dense
}

// newShell validates the architecture and returns an MLP without weights.
func newShell(cfg config.MLPConfig) (*MLP, error) {
	act, ok := densityActivation(cfg.DensityActivation)
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: unknown density activation %q", config.ErrInvalidConfig, cfg.DensityActivation)
	case cfg.NetDepth < 1 || cfg.NetWidth < 1:
		return nil, fmt.Errorf("%w: trunk must have positive depth and width", config.ErrInvalidConfig)
	case cfg.SkipLayer < 1:
		return nil, fmt.Errorf("%w: skip layer must be positive", config.ErrInvalidConfig)
	case cfg.MaxDegPoint <= cfg.MinDegPoint:
		return nil, fmt.Errorf("%w: %w: position degrees [%d, %d) are empty", config.ErrInvalidConfig, encoding.ErrDegreeRange, cfg.MinDegPoint, cfg.MaxDegPoint)
	case cfg.UseViewdirs && cfg.DegView < 0:
		return nil, fmt.Errorf("%w: %w: view degree %d", config.ErrInvalidConfig, encoding.ErrDegreeRange, cfg.DegView)
	case cfg.UseViewdirs && cfg.BottleneckWidth < 1:
		return nil, fmt.Errorf("%w: bottleneck width must be positive", config.ErrInvalidConfig)
	case cfg.UseViewdirs && cfg.NetDepthViewdirs > 0 && cfg.NetWidthViewdirs < 1:
		return nil, fmt.Errorf("%w: view branch width must be positive", config.ErrInvalidConfig)
	}
	return &MLP{cfg: cfg, activation: act}, nil
}

// NewMLP creates an MLP with He-uniform weights and zero biases drawn from
// key. The same key always yields the same parameters.
func NewMLP(cfg config.MLPConfig, key prng.Key) (*MLP, error) {
	m, err := newShell(cfg)
	if err != nil {
		return nil, err
	}
	shapes := m.layerShapes()
	keys := key.SplitN(len(shapes))
	layers := make([]*dense, len(shapes))
	for i, s := range shapes {
		layers[i] = newDense(keys[i], s[0], s[1])
	}
	m.assign(layers)
	return m, nil
}

// Config returns the architecture of the network.
func (m *MLP) Config() config.MLPConfig {
	return m.cfg
}

// NumParams returns the number of weights and biases.
func (m *MLP) NumParams() int {
	n := 0
	for _, s := range m.layerShapes() {
		n += s[0]*s[1] + s[1]
	}
	return n
}

func (m *MLP) isSkip(i int) bool {
	return i%m.cfg.SkipLayer == 0 && i > 0
}

func (m *MLP) pointDim() int {
	return encoding.Dim(m.cfg.MinDegPoint, m.cfg.MaxDegPoint, false)
}

func (m *MLP) viewDim() int {
	return encoding.Dim(0, m.cfg.DegView, true)
}

// layerShapes lists (in, out) of every layer in storage order: trunk,
// density head, bottleneck, view layers, rgb head.
func (m *MLP) layerShapes() [][2]int {
	c := m.cfg
	enc := m.pointDim()

	var shapes [][2]int
	in := enc
	for i := 0; i < c.NetDepth; i++ {
		shapes = append(shapes, [2]int{in, c.NetWidth})
		in = c.NetWidth
		if m.isSkip(i) {
			in += enc
		}
	}
	trunkOut := in
	shapes = append(shapes, [2]int{trunkOut, 1})

	if !c.UseViewdirs {
		return append(shapes, [2]int{trunkOut, 3})
	}
	shapes = append(shapes, [2]int{trunkOut, c.BottleneckWidth})
	in = c.BottleneckWidth + m.viewDim()
	for i := 0; i < c.NetDepthViewdirs; i++ {
		shapes = append(shapes, [2]int{in, c.NetWidthViewdirs})
		in = c.NetWidthViewdirs
	}
	return append(shapes, [2]int{in, 3})
}

func (m *MLP) assign(layers []*dense) {
	d := m.cfg.NetDepth
	m.trunk = layers[:d]
	m.density = layers[d]
	m.rgb = layers[len(layers)-1]
	if m.cfg.UseViewdirs {
		m.bottleneck = layers[d+1]
		m.views = layers[d+2 : len(layers)-1]
	}
}

func (m *MLP) layers() []*dense {
	out := append([]*dense{}, m.trunk...)
	out = append(out, m.density)
	if m.cfg.UseViewdirs {
		out = append(out, m.bottleneck)
		out = append(out, m.views...)
	}
	return append(out, m.rgb)
}

// window returns the per-band annealing weights, or nil when annealing is off
// or complete.
func (m *MLP) window(trainFrac float64) []float64 {
	if m.cfg.AnnealFraction <= 0 {
		return nil
	}
	progress := math.Min(math.Max(trainFrac/m.cfg.AnnealFraction, 0), 1)
	if progress >= 1 {
		return nil
	}
	lo, hi := m.cfg.MinDegPoint, m.cfg.MaxDegPoint
	return encoding.Window(lo, hi, float64(lo)+float64(hi-lo)*progress)
}

// covAt returns the covariance used for sample j.
func (m *MLP) covAt(samples *models.Samples, j int) r3.Vec {
	if m.cfg.DisableIntegration {
		return r3.Vec{}
	}
	return samples.Covs[j]
}

func (m *MLP) encodePoints(samples *models.Samples, window []float64) (*mat.Dense, error) {
	n := samples.NumRays * samples.NumSamples
	out := mat.NewDense(n, m.pointDim(), nil)
	for j := 0; j < n; j++ {
		row := out.RawRowView(j)
		if _, err := encoding.IntegratedPosEnc(row, samples.Means[j], m.covAt(samples, j), m.cfg.MinDegPoint, m.cfg.MaxDegPoint); err != nil {
			return nil, err
		}
		if window != nil {
			encoding.ApplyWindow(row, window, false)
		}
	}
	return out, nil
}

func (m *MLP) encodeViews(viewdirs []r3.Vec, numSamples int) (*mat.Dense, error) {
	out := mat.NewDense(len(viewdirs)*numSamples, m.viewDim(), nil)
	var enc []float64
	for i, d := range viewdirs {
		var err error
		enc, err = encoding.PosEnc(enc, d, 0, m.cfg.DegView, true)
		if err != nil {
			return nil, err
		}
		for k := 0; k < numSamples; k++ {
			copy(out.RawRowView(i*numSamples+k), enc)
		}
	}
	return out, nil
}

// Predict implements Field.
//
// Density noise is only added when key is non-nil. With UseViewdirs set and
// nil viewdirs the evaluation is density-only and Prediction.RGB is nil.
func (m *MLP) Predict(key *prng.Key, samples *models.Samples, viewdirs []r3.Vec, opts PredictOptions) (*Prediction, error) {
	if err := checkInputs(samples, viewdirs); err != nil {
		return nil, fmt.Errorf("mlp predict: %w", err)
	}
	n := samples.NumRays * samples.NumSamples
	if n == 0 {
		pred := &Prediction{Density: []float64{}, Normals: []r3.Vec{}}
		if !m.cfg.UseViewdirs || viewdirs != nil {
			pred.RGB = []models.RGB{}
		}
		return pred, nil
	}

	window := m.window(opts.TrainFrac)
	inputs, err := m.encodePoints(samples, window)
	if err != nil {
		return nil, fmt.Errorf("mlp predict: %w", err)
	}

	acts := make([]*mat.Dense, len(m.trunk))
	x := inputs
	for i, l := range m.trunk {
		a := l.forward(x)
		relu(a)
		acts[i] = a
		x = a
		if m.isSkip(i) {
			x = hstack(a, inputs)
		}
	}

	raw := mat.Col(nil, 0, m.density.forward(x))
	if key != nil && m.cfg.DensityNoise > 0 {
		floats.AddScaled(raw, m.cfg.DensityNoise, key.Normal(n))
	}
	pred := &Prediction{Density: make([]float64, n)}
	for j, v := range raw {
		pred.Density[j] = m.activation(v + m.cfg.DensityBias)
	}

	if opts.ComputeNormals {
		pred.Normals, err = m.normals(samples, acts, window)
		if err != nil {
			return nil, fmt.Errorf("mlp predict: %w", err)
		}
	} else {
		pred.Normals = nanNormals(n)
	}

	var h *mat.Dense
	switch {
	case !m.cfg.UseViewdirs:
		h = x
	case viewdirs == nil:
		return pred, nil
	default:
		views, err := m.encodeViews(viewdirs, samples.NumSamples)
		if err != nil {
			return nil, fmt.Errorf("mlp predict: %w", err)
		}
		h = hstack(m.bottleneck.forward(x), views)
		for _, l := range m.views {
			h = l.forward(h)
			relu(h)
		}
	}

	rawRGB := m.rgb.forward(h)
	pad := m.cfg.RGBPadding
	pred.RGB = make([]models.RGB, n)
	for j := range pred.RGB {
		row := rawRGB.RawRowView(j)
		for c := range pred.RGB[j] {
			v := sigmoid(m.cfg.RGBPremultiplier*row[c] + m.cfg.RGBBias)
			pred.RGB[j][c] = v*(1+2*pad) - pad
		}
	}
	return pred, nil
}
