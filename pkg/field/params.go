package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"

	"mipnerf/pkg/config"
)

// ErrParamsMismatch is returned when stored parameters do not fit the
// configured architecture.
var ErrParamsMismatch = errors.New("parameters do not match architecture")

const (
	paramsMagic = "MIPNERF\x01"

	// maxBlobSize guards against allocating for a corrupt length prefix.
	maxBlobSize = 1 << 30
)

// SaveParams writes the weights of m as a zstd-compressed stream. Layers are
// stored in order, each as the binary encoding of its weight matrix followed
// by its bias vector.
func SaveParams(w io.Writer, m *MLP) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("error creating zstd writer: %w", err)
	}

	layers := m.layers()
	if err := writeHeader(zw, len(layers)); err != nil {
		zw.Close()
		return err
	}
	for i, l := range layers {
		if err := writeBlob(zw, l.W.MarshalBinary); err != nil {
			zw.Close()
			return fmt.Errorf("error writing weights of layer %d: %w", i, err)
		}
		if err := writeBlob(zw, l.B.MarshalBinary); err != nil {
			zw.Close()
			return fmt.Errorf("error writing bias of layer %d: %w", i, err)
		}
	}
	return zw.Close()
}

// LoadParams reads parameters written by SaveParams into an MLP with the
// given architecture.
func LoadParams(r io.Reader, cfg config.MLPConfig) (*MLP, error) {
	m, err := newShell(cfg)
	if err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd reader: %w", err)
	}
	defer zr.Close()

	shapes := m.layerShapes()
	count, err := readHeader(zr)
	if err != nil {
		return nil, err
	}
	if count != len(shapes) {
		return nil, fmt.Errorf("%w: stored %d layers, architecture has %d", ErrParamsMismatch, count, len(shapes))
	}

	layers := make([]*dense, len(shapes))
	for i, s := range shapes {
		l := &dense{W: new(mat.Dense), B: new(mat.VecDense)}
		if err := readBlob(zr, l.W.UnmarshalBinary); err != nil {
			return nil, fmt.Errorf("error reading weights of layer %d: %w", i, err)
		}
		if err := readBlob(zr, l.B.UnmarshalBinary); err != nil {
			return nil, fmt.Errorf("error reading bias of layer %d: %w", i, err)
		}
		if in, out := l.dims(); in != s[0] || out != s[1] || l.B.Len() != s[1] {
			return nil, fmt.Errorf("%w: layer %d is %dx%d, want %dx%d", ErrParamsMismatch, i, in, out, s[0], s[1])
		}
		layers[i] = l
	}
	m.assign(layers)
	return m, nil
}

// SaveParamsFile writes the parameters of m to path, creating its directory.
func SaveParamsFile(path string, m *MLP) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating params directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating params file: %w", err)
	}
	if err := SaveParams(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParamsFile reads an MLP from a file written by SaveParamsFile.
func LoadParamsFile(path string, cfg config.MLPConfig) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening params file: %w", err)
	}
	defer f.Close()
	return LoadParams(f, cfg)
}

func writeHeader(w io.Writer, count int) error {
	if _, err := io.WriteString(w, paramsMagic); err != nil {
		return fmt.Errorf("error writing params header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(count)); err != nil {
		return fmt.Errorf("error writing params header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (int, error) {
	magic := make([]byte, len(paramsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, fmt.Errorf("error reading params header: %w", err)
	}
	if string(magic) != paramsMagic {
		return 0, fmt.Errorf("%w: not a params file", ErrParamsMismatch)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, fmt.Errorf("error reading params header: %w", err)
	}
	return int(count), nil
}

func writeBlob(w io.Writer, marshal func() ([]byte, error)) error {
	blob, err := marshal()
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(blob))); err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

func readBlob(r io.Reader, unmarshal func([]byte) error) error {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return err
	}
	if size > maxBlobSize {
		return fmt.Errorf("%w: blob of %d bytes", ErrParamsMismatch, size)
	}
	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		return err
	}
	return unmarshal(blob)
}
