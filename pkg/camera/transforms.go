package camera

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
)

// Frame is one posed image of a transforms.json file
type Frame struct {
	FilePath        string      `json:"file_path"`
	TransformMatrix [][]float64 `json:"transform_matrix"`
}

// Transforms is the Blender synthetic scene format: a shared horizontal
// field of view and a camera-to-world matrix per image.
type Transforms struct {
	CameraAngleX float64 `json:"camera_angle_x"`
	Frames       []Frame `json:"frames"`

	// dir is the directory the file was loaded from
	dir string
}

// LoadTransforms reads a transforms.json file.
func LoadTransforms(path string) (*Transforms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading transforms file: %w", err)
	}
	var t Transforms
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("error parsing transforms file: %w", err)
	}
	for i, f := range t.Frames {
		if len(f.TransformMatrix) != 4 {
			return nil, fmt.Errorf("frame %d: transform matrix has %d rows, want 4", i, len(f.TransformMatrix))
		}
		for r, row := range f.TransformMatrix {
			if len(row) != 4 {
				return nil, fmt.Errorf("frame %d: transform matrix row %d has %d entries, want 4", i, r, len(row))
			}
		}
	}
	t.dir = filepath.Dir(path)
	return &t, nil
}

// SaveTransforms writes the poses of a rendered path with image names built
// from pattern (e.g. "rgb_%03d.png").
func SaveTransforms(path string, cameraAngleX float64, poses []mgl64.Mat4, pattern string) error {
	t := Transforms{CameraAngleX: cameraAngleX}
	for i, p := range poses {
		rows := make([][]float64, 4)
		for r := range rows {
			rows[r] = make([]float64, 4)
			for c := range rows[r] {
				rows[r][c] = p.At(r, c)
			}
		}
		t.Frames = append(t.Frames, Frame{FilePath: fmt.Sprintf(pattern, i), TransformMatrix: rows})
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling transforms: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing transforms file: %w", err)
	}
	return nil
}

// Focal returns the focal length in pixels for images of the given width.
func (t *Transforms) Focal(width int) float64 {
	return 0.5 * float64(width) / math.Tan(0.5*t.CameraAngleX)
}

// Pose returns the camera-to-world transform of frame i.
func (t *Transforms) Pose(i int) mgl64.Mat4 {
	var m mgl64.Mat4
	for r, row := range t.Frames[i].TransformMatrix {
		for c, v := range row {
			m.Set(r, c, v)
		}
	}
	return m
}

// Poses returns the transforms of every frame.
func (t *Transforms) Poses() []mgl64.Mat4 {
	poses := make([]mgl64.Mat4, len(t.Frames))
	for i := range poses {
		poses[i] = t.Pose(i)
	}
	return poses
}

// ImagePath resolves the image of frame i relative to the transforms file.
// Blender scenes omit the extension, which defaults to .png.
func (t *Transforms) ImagePath(i int) string {
	p := t.Frames[i].FilePath
	if filepath.Ext(p) == "" {
		p += ".png"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(t.dir, p)
}
