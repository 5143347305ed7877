package sampling

import (
	"fmt"
	"math"
	"strings"
)

// Space maps distances into the space in which samples are spaced evenly.
type Space interface {
	Fwd(x float64) float64
	Inv(y float64) float64
	Name() string
}

type linearSpace struct{}

func (linearSpace) Fwd(x float64) float64 { return x }
func (linearSpace) Inv(y float64) float64 { return y }
func (linearSpace) Name() string          { return "linear" }

// reciprocalSpace spaces samples evenly in disparity.
type reciprocalSpace struct{}

func (reciprocalSpace) Fwd(x float64) float64 { return 1 / x }
func (reciprocalSpace) Inv(y float64) float64 { return 1 / y }
func (reciprocalSpace) Name() string          { return "reciprocal" }

type logSpace struct{}

func (logSpace) Fwd(x float64) float64 { return math.Log(x) }
func (logSpace) Inv(y float64) float64 { return math.Exp(y) }
func (logSpace) Name() string          { return "log" }

// The supported spacings.
var (
	SpaceLinear     Space = linearSpace{}
	SpaceReciprocal Space = reciprocalSpace{}
	SpaceLog        Space = logSpace{}
)

// ParseSpace resolves a spacing by name. "disparity" is an alias for
// "reciprocal".
func ParseSpace(name string) (Space, error) {
	switch strings.ToLower(name) {
	case "linear", "":
		return SpaceLinear, nil
	case "reciprocal", "disparity":
		return SpaceReciprocal, nil
	case "log":
		return SpaceLog, nil
	}
	return nil, fmt.Errorf("unknown sample spacing %q", name)
}

// Genspace returns num values between start and stop that are evenly spaced
// in the space described by fn. The endpoints are returned exactly.
func Genspace(dst []float64, start, stop float64, num int, fn Space) []float64 {
	if cap(dst) < num {
		dst = make([]float64, num)
	}
	dst = dst[:num]
	if num == 1 {
		dst[0] = start
		return dst
	}

	a, b := fn.Fwd(start), fn.Fwd(stop)
	step := (b - a) / float64(num-1)
	for i := range dst {
		dst[i] = fn.Inv(a + step*float64(i))
	}
	dst[0] = start
	dst[num-1] = stop
	return dst
}
