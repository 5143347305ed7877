package field

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
	"mipnerf/pkg/config"
	"mipnerf/pkg/prng"
)

// smallConfig returns a narrow network that keeps tests fast. With depth 4
// and skip 2 the encoded input is concatenated after the third layer.
func smallConfig(useViewdirs bool) config.MLPConfig {
	return config.MLPConfig{
		NetDepth:          4,
		NetWidth:          16,
		BottleneckWidth:   8,
		NetDepthViewdirs:  1,
		NetWidthViewdirs:  8,
		SkipLayer:         2,
		MinDegPoint:       0,
		MaxDegPoint:       4,
		DegView:           2,
		UseViewdirs:       useViewdirs,
		DensityActivation: "softplus",
		DensityBias:       -1,
		RGBPremultiplier:  1,
		RGBPadding:        0.001,
	}
}

// randomSamples builds samples with means in [-1, 1]^3 and small covariances
func randomSamples(seed uint64, numRays, numSamples int) *models.Samples {
	key := prng.NewKey(seed)
	n := numRays * numSamples
	u := key.Uniform(6 * n)
	s := &models.Samples{
		NumRays:    numRays,
		NumSamples: numSamples,
		TVals:      make([]float64, numRays*(numSamples+1)),
	}
	for i := range s.TVals {
		s.TVals[i] = 2 + float64(i%(numSamples+1))
	}
	for j := 0; j < n; j++ {
		v := u[6*j : 6*j+6]
		s.Means = append(s.Means, r3.Vec{X: 2*v[0] - 1, Y: 2*v[1] - 1, Z: 2*v[2] - 1})
		s.Covs = append(s.Covs, r3.Vec{X: 0.01 * v[3], Y: 0.01 * v[4], Z: 0.01 * v[5]})
	}
	return s
}

func testViewDirs(n int) []r3.Vec {
	dirs := make([]r3.Vec, n)
	for i := range dirs {
		dirs[i] = r3.Unit(r3.Vec{X: float64(i), Y: 1, Z: -2})
	}
	return dirs
}

// TestNewMLPDeterministic checks that the same key yields the same network
func TestNewMLPDeterministic(t *testing.T) {
	cfg := smallConfig(true)
	a, err := NewMLP(cfg, prng.NewKey(1))
	if err != nil {
		t.Fatalf("NewMLP failed: %v", err)
	}
	b, _ := NewMLP(cfg, prng.NewKey(1))
	c, _ := NewMLP(cfg, prng.NewKey(2))

	samples := randomSamples(3, 2, 5)
	dirs := testViewDirs(2)
	pa, _ := a.Predict(nil, samples, dirs, PredictOptions{})
	pb, _ := b.Predict(nil, samples, dirs, PredictOptions{})
	pc, _ := c.Predict(nil, samples, dirs, PredictOptions{})

	if !floats.Equal(pa.Density, pb.Density) {
		t.Error("Expected identical densities for identical keys")
	}
	if floats.Equal(pa.Density, pc.Density) {
		t.Error("Expected different densities for different keys")
	}

	// The 24 encoded inputs are fed to layers 0 and 3, the trunk output is 16
	// wide and the view branch sees 8 bottleneck plus 15 direction features.
	want := (24*16 + 16) + (16*16 + 16) + (16*16 + 16) + (40*16 + 16) + (16 + 1) + (16*8 + 8) + (23*8 + 8) + (8*3 + 3)
	if got := a.NumParams(); got != want {
		t.Errorf("Expected %d parameters, got %d", want, got)
	}
}

// TestPredictOutputs checks output shapes and value ranges
func TestPredictOutputs(t *testing.T) {
	for _, useViewdirs := range []bool{true, false} {
		cfg := smallConfig(useViewdirs)
		m, err := NewMLP(cfg, prng.NewKey(7))
		if err != nil {
			t.Fatalf("NewMLP failed: %v", err)
		}
		samples := randomSamples(11, 3, 8)
		pred, err := m.Predict(nil, samples, testViewDirs(3), PredictOptions{})
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}

		n := 3 * 8
		if len(pred.RGB) != n || len(pred.Density) != n || len(pred.Normals) != n {
			t.Fatalf("Expected %d outputs, got %d, %d, %d", n, len(pred.RGB), len(pred.Density), len(pred.Normals))
		}
		for j := 0; j < n; j++ {
			if pred.Density[j] < 0 || math.IsNaN(pred.Density[j]) {
				t.Errorf("Sample %d: invalid density %f", j, pred.Density[j])
			}
			for c := 0; c < 3; c++ {
				v := pred.RGB[j][c]
				if v < -cfg.RGBPadding || v > 1+cfg.RGBPadding {
					t.Errorf("Sample %d: color %f outside padded range", j, v)
				}
			}
			if !math.IsNaN(pred.Normals[j].X) {
				t.Errorf("Sample %d: expected NaN normal sentinel, got %v", j, pred.Normals[j])
			}
		}
	}
}

// TestPredictDensityOnly checks the evaluation without view directions
func TestPredictDensityOnly(t *testing.T) {
	m, _ := NewMLP(smallConfig(true), prng.NewKey(5))
	samples := randomSamples(6, 2, 4)

	full, err := m.Predict(nil, samples, testViewDirs(2), PredictOptions{})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	densityOnly, err := m.Predict(nil, samples, nil, PredictOptions{})
	if err != nil {
		t.Fatalf("Predict without view directions failed: %v", err)
	}
	if densityOnly.RGB != nil {
		t.Error("Expected no colors from a density-only evaluation")
	}
	if !floats.Equal(full.Density, densityOnly.Density) {
		t.Error("Expected density to be independent of view directions")
	}
}

// TestPredictShapeMismatch checks that view directions must match the rays
func TestPredictShapeMismatch(t *testing.T) {
	m, _ := NewMLP(smallConfig(true), prng.NewKey(5))
	samples := randomSamples(6, 2, 4)
	if _, err := m.Predict(nil, samples, testViewDirs(3), PredictOptions{}); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	samples.Covs = samples.Covs[:3]
	if _, err := m.Predict(nil, samples, nil, PredictOptions{}); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for truncated covariances, got %v", err)
	}
}

// TestPredictEmptyBatch checks that a batch without rays yields empty outputs
func TestPredictEmptyBatch(t *testing.T) {
	m, _ := NewMLP(smallConfig(true), prng.NewKey(5))
	empty := &models.Samples{NumSamples: 4}

	pred, err := m.Predict(nil, empty, []r3.Vec{}, PredictOptions{ComputeNormals: true})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if pred.RGB == nil || len(pred.RGB) != 0 || len(pred.Density) != 0 || len(pred.Normals) != 0 {
		t.Errorf("Expected empty outputs, got %+v", pred)
	}

	densityOnly, err := m.Predict(nil, empty, nil, PredictOptions{})
	if err != nil {
		t.Fatalf("Predict without view directions failed: %v", err)
	}
	if densityOnly.RGB != nil {
		t.Error("Expected no colors from a density-only evaluation")
	}
}

// TestDensityNoise checks that noise needs a key and is reproducible
func TestDensityNoise(t *testing.T) {
	cfg := smallConfig(false)
	cfg.DensityNoise = 1
	m, _ := NewMLP(cfg, prng.NewKey(9))
	samples := randomSamples(2, 2, 6)

	clean, _ := m.Predict(nil, samples, nil, PredictOptions{})
	k := prng.NewKey(4)
	noisy, _ := m.Predict(&k, samples, nil, PredictOptions{})
	again, _ := m.Predict(&k, samples, nil, PredictOptions{})

	if floats.Equal(clean.Density, noisy.Density) {
		t.Error("Expected noise to change the density")
	}
	if !floats.Equal(noisy.Density, again.Density) {
		t.Error("Expected the same key to give the same noise")
	}
}

// TestDisableIntegration checks that covariances are ignored when disabled
func TestDisableIntegration(t *testing.T) {
	cfg := smallConfig(false)
	cfg.DisableIntegration = true
	m, _ := NewMLP(cfg, prng.NewKey(12))

	a := randomSamples(8, 1, 5)
	b := randomSamples(8, 1, 5)
	for j := range b.Covs {
		b.Covs[j] = r3.Vec{X: 5, Y: 5, Z: 5}
	}
	pa, _ := m.Predict(nil, a, nil, PredictOptions{})
	pb, _ := m.Predict(nil, b, nil, PredictOptions{})
	if !floats.Equal(pa.Density, pb.Density) {
		t.Error("Expected identical densities with integration disabled")
	}
}

// rawDensity evaluates the pre-activation density of a single point with an
// exp activation and zero bias, so raw = log(density).
func rawDensity(t *testing.T, m *MLP, mean, cov r3.Vec, trainFrac float64) float64 {
	t.Helper()
	s := &models.Samples{
		NumRays:    1,
		NumSamples: 1,
		TVals:      []float64{0, 1},
		Means:      []r3.Vec{mean},
		Covs:       []r3.Vec{cov},
	}
	pred, err := m.Predict(nil, s, nil, PredictOptions{TrainFrac: trainFrac})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	return math.Log(pred.Density[0])
}

// TestNormalsMatchFiniteDifferences compares the backward pass against
// central differences of the raw density
func TestNormalsMatchFiniteDifferences(t *testing.T) {
	cases := []struct {
		name      string
		depth     int
		anneal    float64
		trainFrac float64
	}{
		{"skip inside trunk", 4, 0, 0},
		{"skip on last layer", 3, 0, 0},
		{"annealed window", 4, 0.5, 0.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := smallConfig(false)
			cfg.NetDepth = tc.depth
			cfg.DensityActivation = "exp"
			cfg.DensityBias = 0
			cfg.AnnealFraction = tc.anneal
			m, err := NewMLP(cfg, prng.NewKey(21))
			if err != nil {
				t.Fatalf("NewMLP failed: %v", err)
			}

			samples := randomSamples(22, 1, 6)
			pred, err := m.Predict(nil, samples, nil, PredictOptions{ComputeNormals: true, TrainFrac: tc.trainFrac})
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}

			const h = 1e-6
			for j, mean := range samples.Means {
				cov := samples.Covs[j]
				var g r3.Vec
				for axis := 0; axis < 3; axis++ {
					var d r3.Vec
					switch axis {
					case 0:
						d.X = h
					case 1:
						d.Y = h
					case 2:
						d.Z = h
					}
					fp := rawDensity(t, m, r3.Add(mean, d), cov, tc.trainFrac)
					fm := rawDensity(t, m, r3.Sub(mean, d), cov, tc.trainFrac)
					v := (fp - fm) / (2 * h)
					switch axis {
					case 0:
						g.X = v
					case 1:
						g.Y = v
					case 2:
						g.Z = v
					}
				}
				want := r3.Scale(-1, r3.Unit(g))
				if r3.Norm(r3.Sub(pred.Normals[j], want)) > 1e-4 {
					t.Errorf("Sample %d: expected normal %v, got %v", j, want, pred.Normals[j])
				}
			}
		})
	}
}

// TestInvalidArchitecture checks configuration validation in NewMLP
func TestInvalidArchitecture(t *testing.T) {
	bad := []func(*config.MLPConfig){
		func(c *config.MLPConfig) { c.NetDepth = 0 },
		func(c *config.MLPConfig) { c.SkipLayer = 0 },
		func(c *config.MLPConfig) { c.MaxDegPoint = c.MinDegPoint },
		func(c *config.MLPConfig) { c.DensityActivation = "tanh" },
		func(c *config.MLPConfig) { c.BottleneckWidth = 0 },
	}
	for i, mutate := range bad {
		cfg := smallConfig(true)
		mutate(&cfg)
		if _, err := NewMLP(cfg, prng.NewKey(1)); !errors.Is(err, config.ErrInvalidConfig) {
			t.Errorf("Case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

// TestConstantField checks the trivial field variant
func TestConstantField(t *testing.T) {
	var f Field = ConstantField{Density: 2, Color: models.RGB{0.1, 0.2, 0.3}}
	samples := randomSamples(1, 2, 3)
	pred, err := f.Predict(nil, samples, nil, PredictOptions{ComputeNormals: true})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for j := range pred.Density {
		if pred.Density[j] != 2 || pred.RGB[j] != (models.RGB{0.1, 0.2, 0.3}) {
			t.Errorf("Sample %d: expected constant output, got %f %v", j, pred.Density[j], pred.RGB[j])
		}
	}
	if _, err := f.Predict(nil, samples, testViewDirs(5), PredictOptions{}); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}
