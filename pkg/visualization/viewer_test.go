package visualization

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
)

// createTestImage builds a width x height rendering with a horizontal color
// ramp, opacity growing downwards and distances spanning [2, 6]
func createTestImage(width, height int, withNormals bool) *models.Image {
	r := &models.Rendering{}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			u := float64(x) / float64(width-1)
			v := float64(y) / float64(height-1)
			r.RGB = append(r.RGB, models.RGB{u, 1 - u, 0.5})
			r.Acc = append(r.Acc, v)
			r.DistanceMean = append(r.DistanceMean, 2+4*u)
			r.DistanceMedian = append(r.DistanceMedian, 6-4*u)
			n := models.NaNVec()
			if withNormals {
				n = r3.Vec{X: 0, Y: 0, Z: 1}
			}
			r.Normals = append(r.Normals, n)
		}
	}
	return &models.Image{Width: width, Height: height, Rendering: r}
}

// TestNewViewer verifies that a new viewer is created with the correct parameters
func TestNewViewer(t *testing.T) {
	img := createTestImage(10, 5, false)
	viewer := NewViewer(img, 2, 6)

	if viewer.img != img {
		t.Error("Expected the viewer to keep the rendering")
	}
	if viewer.near != 2 || viewer.far != 6 {
		t.Errorf("Expected range [2, 6], got [%f, %f]", viewer.near, viewer.far)
	}
}

// TestExtractChannel verifies the pictures of every output
func TestExtractChannel(t *testing.T) {
	viewer := NewViewer(createTestImage(10, 5, true), 2, 6)

	rgb := viewer.RGBImage()
	if got := rgb.NRGBAAt(0, 0); got != (color.NRGBA{R: 0, G: 255, B: 128, A: 255}) {
		t.Errorf("Expected left color (0, 255, 128), got %v", got)
	}
	if got := rgb.NRGBAAt(9, 0); got.R != 255 || got.G != 0 {
		t.Errorf("Expected right color (255, 0, ...), got %v", got)
	}

	acc := viewer.AccImage()
	if acc.Gray16At(3, 0).Y != 0 || acc.Gray16At(3, 4).Y != 65535 {
		t.Errorf("Expected opacity from 0 to 65535, got %d and %d", acc.Gray16At(3, 0).Y, acc.Gray16At(3, 4).Y)
	}

	depth := viewer.DepthImage(false)
	if depth.Gray16At(0, 2).Y != 0 || depth.Gray16At(9, 2).Y != 65535 {
		t.Errorf("Expected depth from 0 to 65535, got %d and %d", depth.Gray16At(0, 2).Y, depth.Gray16At(9, 2).Y)
	}
	median := viewer.DepthImage(true)
	if median.Gray16At(0, 2).Y != 65535 {
		t.Errorf("Expected the median depth to be reversed, got %d", median.Gray16At(0, 2).Y)
	}

	normals := viewer.NormalImage()
	if got := normals.NRGBAAt(4, 4); got != (color.NRGBA{R: 128, G: 128, B: 255, A: 255}) {
		t.Errorf("Expected normal color (128, 128, 255), got %v", got)
	}

	if _, err := viewer.ExtractChannel("alpha"); err == nil {
		t.Error("Expected error for an invalid channel")
	}
}

// TestExtractChannelWithoutNormals checks the NaN normal sentinel
func TestExtractChannelWithoutNormals(t *testing.T) {
	viewer := NewViewer(createTestImage(4, 4, false), 2, 6)
	if _, err := viewer.ExtractChannel("normals"); err == nil {
		t.Error("Expected error for a rendering without normals")
	}
	if got := viewer.NormalImage().NRGBAAt(1, 1); got.A != 0 {
		t.Errorf("Expected a transparent pixel, got %v", got)
	}
}

// TestSaveAll verifies that the selected outputs are written to disk
func TestSaveAll(t *testing.T) {
	tmpDir := t.TempDir()
	viewer := NewViewer(createTestImage(8, 6, false), 2, 6)

	written, err := viewer.SaveAll(filepath.Join(tmpDir, "frames"), 7, SaveOptions{Depth: true, Acc: true, Normals: true})
	if err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	// Normals are skipped because the rendering has none
	want := []string{"rgb_007.png", "depth_007.tiff", "acc_007.png"}
	if len(written) != len(want) {
		t.Fatalf("Expected %d files, got %v", len(want), written)
	}
	for i, name := range want {
		if filepath.Base(written[i]) != name {
			t.Errorf("Expected %s, got %s", name, written[i])
		}
		if _, err := os.Stat(written[i]); err != nil {
			t.Errorf("Expected %s to exist: %v", written[i], err)
		}
	}

	// The depth map stays 16-bit
	f, err := os.Open(written[1])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode depth map: %v", err)
	}
	if _, ok := img.ColorModel().Convert(color.Gray16{}).(color.Gray16); !ok {
		t.Errorf("Expected a 16-bit grayscale depth map, got %T", img)
	}
}

// TestSaveImageFormats checks format selection by extension
func TestSaveImageFormats(t *testing.T) {
	tmpDir := t.TempDir()
	img := NewViewer(createTestImage(4, 4, false), 2, 6).RGBImage()

	for _, name := range []string{"a.png", "b.jpg", "c.tif"} {
		path := filepath.Join(tmpDir, name)
		if err := SaveImage(img, path); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", name, err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		decoded, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			t.Errorf("Expected %s to decode, got %v", name, err)
		} else if decoded.Bounds() != img.Bounds() {
			t.Errorf("Expected bounds %v for %s, got %v", img.Bounds(), name, decoded.Bounds())
		}
	}

	// Unsupported formats are rejected before anything is written
	bmp := filepath.Join(tmpDir, "d.bmp")
	if err := SaveImage(img, bmp); err == nil {
		t.Error("Expected error for an unsupported format")
	}
	if _, err := os.Stat(bmp); !os.IsNotExist(err) {
		t.Errorf("Expected no file for an unsupported format, got %v", err)
	}

	if err := SaveImage(img, filepath.Join(tmpDir, "missing", "e.png")); err == nil {
		t.Error("Expected error for a missing directory")
	}
}
