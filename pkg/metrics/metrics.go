// Package metrics measures the quality of rendered images against ground
// truth photographs.
package metrics

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mipnerf/internal/models"
)

// Metrics holds the image quality metrics of one rendered view
type Metrics struct {
	// MSE is the mean squared error over all color channels
	MSE float64

	// RMSE is the square root of MSE
	RMSE float64

	// PSNR (peak signal-to-noise ratio, in dB) is -10 log10(MSE) for colors
	// in [0, 1]. Higher values indicate a closer match.
	PSNR float64

	// SSIM (structural similarity) is computed globally per channel and
	// averaged. Values range from -1 to 1, with 1 indicating identical images.
	SSIM float64

	// MI is a Gaussian approximation of the mutual information between the
	// luminance of both images
	MI float64

	// EntropyDiff is the absolute difference of the luminance entropies
	EntropyDiff float64
}

// MSE computes the mean squared error
func MSE(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n == 0 {
		return 0
	}
	mse := 0.0
	for i := 0; i < n; i++ {
		diff := a[i] - b[i]
		mse += diff * diff
	}
	return mse / float64(n)
}

// RMSE computes the root mean square error
func RMSE(a, b []float64) float64 {
	return math.Sqrt(MSE(a, b))
}

// PSNR converts a mean squared error of [0, 1] signals to decibels.
func PSNR(mse float64) float64 {
	return -10 * math.Log10(mse)
}

// SSIM computes the global structural similarity of two signals in [0, 1]
func SSIM(a, b []float64) float64 {
	// Constants for SSIM calculation
	const L = 1.0 // Dynamic range
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	muX := stat.Mean(a, nil)
	muY := stat.Mean(b, nil)
	sigmaX := stat.Variance(a, nil)
	sigmaY := stat.Variance(b, nil)
	sigmaXY := stat.Covariance(a, b, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// MutualInformation approximates the mutual information of two signals by
// treating them as jointly Gaussian:
// 0.5 * log(var(X) var(Y) / (var(X) var(Y) - cov(X, Y)^2)).
// Identical or perfectly correlated signals give +Inf.
func MutualInformation(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}
	varX := stat.Variance(a, nil)
	varY := stat.Variance(b, nil)
	cov := stat.Covariance(a, b, nil)
	if varX <= 0 || varY <= 0 {
		return 0
	}
	det := varX*varY - cov*cov
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/det)
}

// Entropy computes the Shannon entropy (in bits) of a 256 bin histogram of
// data over its own range
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	lo, hi := floats.Min(data), floats.Max(data)
	// If all values are the same, entropy is 0
	if hi <= lo {
		return 0
	}

	const numBins = 256
	dividers := make([]float64, numBins+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram needs the last divider strictly above the maximum
	dividers[numBins] = math.Nextafter(hi, math.Inf(1))

	sorted := append([]float64(nil), data...)
	floats.Argsort(sorted, make([]int, n))
	hist := stat.Histogram(nil, dividers, sorted, nil)

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// Compare computes every metric of a rendered image against a reference
// photograph of the same size. Transparent reference pixels are composited
// over the background the renderer used.
func Compare(rendered *models.Image, reference image.Image, whiteBackground bool) (Metrics, error) {
	b := reference.Bounds()
	if b.Dx() != rendered.Width || b.Dy() != rendered.Height {
		return Metrics{}, fmt.Errorf("%w: rendered %dx%d, reference %dx%d",
			models.ErrShapeMismatch, rendered.Width, rendered.Height, b.Dx(), b.Dy())
	}

	got := RenderedToFloat(rendered)
	want := ImageToFloat(reference, whiteBackground)

	var m Metrics
	m.MSE = MSE(got, want)
	m.RMSE = math.Sqrt(m.MSE)
	m.PSNR = PSNR(m.MSE)

	for c := 0; c < 3; c++ {
		m.SSIM += SSIM(channel(got, c), channel(want, c)) / 3
	}

	lumGot, lumWant := luminance(got), luminance(want)
	m.MI = MutualInformation(lumGot, lumWant)
	m.EntropyDiff = math.Abs(Entropy(lumGot) - Entropy(lumWant))
	return m, nil
}

// RenderedToFloat flattens the colors of a rendered image to interleaved RGB.
func RenderedToFloat(img *models.Image) []float64 {
	out := make([]float64, 0, 3*len(img.RGB))
	for _, c := range img.RGB {
		out = append(out, c[0], c[1], c[2])
	}
	return out
}

// ImageToFloat converts an image to interleaved RGB in [0, 1], compositing
// its alpha over a white or black background.
func ImageToFloat(img image.Image, whiteBackground bool) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, 3*b.Dx()*b.Dy())
	bg := 0.0
	if whiteBackground {
		bg = 1
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			// RGBA returns alpha-premultiplied 16-bit values
			r, g, bl, a := img.At(x, y).RGBA()
			rest := bg * (1 - float64(a)/65535.0)
			out = append(out,
				float64(r)/65535.0+rest,
				float64(g)/65535.0+rest,
				float64(bl)/65535.0+rest,
			)
		}
	}
	return out
}

func channel(rgb []float64, c int) []float64 {
	out := make([]float64, len(rgb)/3)
	for i := range out {
		out[i] = rgb[3*i+c]
	}
	return out
}

func luminance(rgb []float64) []float64 {
	out := make([]float64, len(rgb)/3)
	for i := range out {
		out[i] = 0.299*rgb[3*i] + 0.587*rgb[3*i+1] + 0.114*rgb[3*i+2]
	}
	return out
}

// Downsample shrinks img by an integer factor, averaging every factor x
// factor block of pixels. Trailing rows and columns that do not fill a block
// are dropped.
func Downsample(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	src := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(src, src.Bounds(), img, b.Min, xdraw.Src)

	dst := image.NewRGBA64(image.Rect(0, 0, b.Dx()/factor, b.Dy()/factor))
	area := uint64(factor * factor)
	for y := 0; y < dst.Rect.Dy(); y++ {
		for x := 0; x < dst.Rect.Dx(); x++ {
			var sum [4]uint64
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					c := src.RGBA64At(x*factor+dx, y*factor+dy)
					sum[0] += uint64(c.R)
					sum[1] += uint64(c.G)
					sum[2] += uint64(c.B)
					sum[3] += uint64(c.A)
				}
			}
			dst.SetRGBA64(x, y, color.RGBA64{
				R: uint16((sum[0] + area/2) / area),
				G: uint16((sum[1] + area/2) / area),
				B: uint16((sum[2] + area/2) / area),
				A: uint16((sum[3] + area/2) / area),
			})
		}
	}
	return dst
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	return img, nil
}
