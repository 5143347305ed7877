package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"mipnerf/internal/models"
)

// Viewer turns a rendered image into viewable pictures of its color,
// opacity, distance and normals.
type Viewer struct {
	// img is the rendering being visualised
	img *models.Image

	// near and far map distances onto the full intensity range
	near float64
	far  float64
}

// SaveOptions selects the outputs written by SaveAll besides the color image
type SaveOptions struct {
	Depth   bool
	Acc     bool
	Normals bool
}

// NewViewer creates a viewer for a rendered image with distances in [near, far]
func NewViewer(img *models.Image, near, far float64) *Viewer {
	return &Viewer{
		img:  img,
		near: near,
		far:  far,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func to16(v float64) uint16 {
	return uint16(math.Round(clamp01(v) * 65535))
}

// RGBImage returns the composited colors as an 8-bit image.
func (v *Viewer) RGBImage() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, v.img.Width, v.img.Height))
	for y := 0; y < v.img.Height; y++ {
		for x := 0; x < v.img.Width; x++ {
			c := v.img.RGBAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{R: to8(c[0]), G: to8(c[1]), B: to8(c[2]), A: 255})
		}
	}
	return out
}

// AccImage returns the accumulated opacity as a 16-bit grayscale image.
func (v *Viewer) AccImage() *image.Gray16 {
	return v.gray(v.img.Acc, func(a float64) float64 { return a })
}

// DepthImage returns the expected (or median) distance mapped from
// [near, far] to 16-bit grayscale. Distances outside the range saturate.
func (v *Viewer) DepthImage(median bool) *image.Gray16 {
	d := v.img.DistanceMean
	if median {
		d = v.img.DistanceMedian
	}
	span := v.far - v.near
	return v.gray(d, func(t float64) float64 { return (t - v.near) / span })
}

func (v *Viewer) gray(values []float64, f func(float64) float64) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, v.img.Width, v.img.Height))
	for y := 0; y < v.img.Height; y++ {
		for x := 0; x < v.img.Width; x++ {
			out.SetGray16(x, y, color.Gray16{Y: to16(f(values[v.img.Index(x, y)]))})
		}
	}
	return out
}

// NormalImage maps normals from [-1, 1] to colors. Pixels without a normal
// are transparent.
func (v *Viewer) NormalImage() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, v.img.Width, v.img.Height))
	for y := 0; y < v.img.Height; y++ {
		for x := 0; x < v.img.Width; x++ {
			n := v.img.Normals[v.img.Index(x, y)]
			if math.IsNaN(n.X) {
				continue
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: to8(0.5*n.X + 0.5),
				G: to8(0.5*n.Y + 0.5),
				B: to8(0.5*n.Z + 0.5),
				A: 255,
			})
		}
	}
	return out
}

// ExtractChannel returns the picture of a named output: rgb, acc, depth,
// median or normals.
func (v *Viewer) ExtractChannel(name string) (image.Image, error) {
	switch strings.ToLower(name) {
	case "rgb":
		return v.RGBImage(), nil
	case "acc":
		return v.AccImage(), nil
	case "depth":
		return v.DepthImage(false), nil
	case "median":
		return v.DepthImage(true), nil
	case "normals":
		if !v.img.HasNormals() {
			return nil, fmt.Errorf("rendering has no normals")
		}
		return v.NormalImage(), nil
	}
	return nil, fmt.Errorf("invalid channel: %s (must be rgb, acc, depth, median or normals)", name)
}

// SaveImage encodes img by the extension of filename: .png, .jpg/.jpeg or
// .tif/.tiff. TIFF keeps 16-bit images lossless.
func SaveImage(img image.Image, filename string) error {
	var encode func(w io.Writer) error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		encode = func(w io.Writer) error { return png.Encode(w, img) }
	case ".jpg", ".jpeg":
		encode = func(w io.Writer) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: 90}) }
	case ".tif", ".tiff":
		encode = func(w io.Writer) error { return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}) }
	default:
		return fmt.Errorf("unsupported image format: %s", filename)
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := encode(file); err != nil {
		file.Close()
		return fmt.Errorf("error encoding %s: %w", filename, err)
	}
	return file.Close()
}

// SaveAll writes the color image of frame index and the selected extra
// outputs into outputDir, returning the written paths.
func (v *Viewer) SaveAll(outputDir string, index int, opts SaveOptions) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	type output struct {
		channel string
		pattern string
	}
	outputs := []output{{"rgb", "rgb_%03d.png"}}
	if opts.Depth {
		outputs = append(outputs, output{"depth", "depth_%03d.tiff"})
	}
	if opts.Acc {
		outputs = append(outputs, output{"acc", "acc_%03d.png"})
	}
	if opts.Normals && v.img.HasNormals() {
		outputs = append(outputs, output{"normals", "normals_%03d.png"})
	}

	var written []string
	for _, o := range outputs {
		img, err := v.ExtractChannel(o.channel)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf(o.pattern, index))
		if err := SaveImage(img, filename); err != nil {
			return written, fmt.Errorf("error saving %s: %w", filename, err)
		}
		written = append(written, filename)
	}
	return written, nil
}
