// Package prng provides an explicitly threaded, splittable pseudorandom key.
//
// A Key carries no mutable state. Every consumer derives the keys it needs
// with Split or FoldIn and draws from them, so renders that start from the
// same seed are reproducible regardless of scheduling.
package prng

import (
	"math/bits"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const golden = 0x9e3779b97f4a7c15

// Key is an immutable generator state. Pass it by value.
type Key struct {
	hi, lo uint64
}

// NewKey creates the root key for a seed.
func NewKey(seed uint64) Key {
	return Key{hi: mix(seed), lo: mix(seed ^ golden)}
}

// mix is the splitmix64 finaliser.
func mix(z uint64) uint64 {
	z += golden
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (k Key) derive(i uint64) Key {
	return Key{
		hi: mix(k.hi ^ mix(i+1)),
		lo: mix(k.lo + golden*(i+1)),
	}
}

// Split returns two independent keys derived from k.
func (k Key) Split() (Key, Key) {
	return k.derive(0), k.derive(1)
}

// SplitN returns n independent keys derived from k.
func (k Key) SplitN(n int) []Key {
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = k.derive(uint64(i))
	}
	return keys
}

// FoldIn mixes data into k, e.g. a shard or step index.
func (k Key) FoldIn(data uint64) Key {
	return Key{
		hi: mix(k.hi ^ bits.RotateLeft64(mix(data), 17)),
		lo: mix(k.lo ^ data),
	}
}

func (k Key) source() rand.Source {
	return rand.NewSource(k.hi ^ bits.RotateLeft64(k.lo, 32))
}

// Uniform draws n values in [0, 1).
func (k Key) Uniform(n int) []float64 {
	dist := distuv.Uniform{Min: 0, Max: 1, Src: k.source()}
	out := make([]float64, n)
	for i := range out {
		// distuv.Uniform can return Max only through rounding; keep the
		// interval half open.
		v := dist.Rand()
		if v >= 1 {
			v = 0
		}
		out[i] = v
	}
	return out
}

// Normal draws n standard normal values.
func (k Key) Normal(n int) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: k.source()}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}
