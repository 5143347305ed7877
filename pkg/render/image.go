package render

import (
	"context"
	"fmt"
	"time"

	"mipnerf/internal/logging"
	"mipnerf/internal/models"
	"mipnerf/pkg/prng"
)

// ImageOptions controls how a full image is split into work
type ImageOptions struct {
	// ChunkSize is the number of rays rendered per chunk
	ChunkSize int

	// NumWorkers is the number of goroutines a chunk is sharded across
	NumWorkers int

	// LogProgress logs roughly every tenth of the chunks
	LogProgress bool
}

// RenderStats summarises a RenderImage call
type RenderStats struct {
	Chunks     int
	Rays       int
	PaddedRays int
	Duration   time.Duration
}

// RenderImage renders the width*height rays of a full image with fn and
// returns the finest level.
//
// Rays are processed in chunks of ChunkSize. A chunk is padded with copies
// of its last ray up to a multiple of NumWorkers and split into contiguous
// shards, one per worker. Shard w of chunk c renders with the key derived
// from key by folding in c and then w. The padding is discarded and results
// are gathered in ray order, so the output does not depend on the chunk size
// or worker count when key is nil.
func RenderImage(ctx context.Context, fn RenderFunc, key *prng.Key, rays *models.Rays, width, height int, opts ImageOptions) (*models.Image, RenderStats, error) {
	var stats RenderStats
	start := time.Now()

	if err := rays.Validate(); err != nil {
		return nil, stats, fmt.Errorf("render image: %w", err)
	}
	total := rays.Len()
	if total != width*height {
		return nil, stats, fmt.Errorf("render image: %w: %d rays for a %dx%d image", models.ErrShapeMismatch, total, width, height)
	}
	if opts.ChunkSize < 1 || opts.NumWorkers < 1 {
		return nil, stats, fmt.Errorf("render image: chunk size and worker count must be positive, got %d and %d", opts.ChunkSize, opts.NumWorkers)
	}

	logger := logging.New("render")
	numChunks := (total + opts.ChunkSize - 1) / opts.ChunkSize
	logEvery := max(numChunks/10, 1)

	parts := make([]*models.Rendering, 0, numChunks)
	for c := 0; c < numChunks; c++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("render image: %w", err)
		}

		lo := c * opts.ChunkSize
		hi := min(lo+opts.ChunkSize, total)
		var chunkKey *prng.Key
		if key != nil {
			k := key.FoldIn(uint64(c))
			chunkKey = &k
		}

		part, padded, err := renderChunk(fn, chunkKey, rays.Slice(lo, hi), opts.NumWorkers)
		if err != nil {
			return nil, stats, fmt.Errorf("render image: chunk %d: %w", c, err)
		}
		parts = append(parts, part)
		stats.Chunks++
		stats.Rays += hi - lo
		stats.PaddedRays += padded

		if opts.LogProgress && ((c+1)%logEvery == 0 || c+1 == numChunks) {
			logger.Info().Msgf("Rendering chunk %d/%d (%.1f%% complete)", c+1, numChunks, float64(c+1)/float64(numChunks)*100)
		}
	}

	merged, err := models.ConcatRenderings(parts...)
	if err != nil {
		return nil, stats, fmt.Errorf("render image: %w", err)
	}
	stats.Duration = time.Since(start)
	logger.Debug().
		Int("rays", stats.Rays).
		Int("padded", stats.PaddedRays).
		Dur("duration", stats.Duration).
		Msg("Image rendered")

	return &models.Image{Width: width, Height: height, Rendering: merged}, stats, nil
}

// renderChunk renders one chunk across numWorkers goroutines and returns the
// finest level together with the number of padding rays added.
func renderChunk(fn RenderFunc, key *prng.Key, rays *models.Rays, numWorkers int) (*models.Rendering, int, error) {
	n := rays.Len()
	pad := (numWorkers - n%numWorkers) % numWorkers
	padded := rays.PadEdge(pad)
	shardSize := padded.Len() / numWorkers

	type shardResult struct {
		worker    int
		rendering *models.Rendering
		err       error
	}
	resultChan := make(chan shardResult, numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(worker int) {
			var shardKey *prng.Key
			if key != nil {
				k := key.FoldIn(uint64(worker))
				shardKey = &k
			}
			shard := padded.Slice(worker*shardSize, (worker+1)*shardSize)
			levels, err := fn(shardKey, shard)
			res := shardResult{worker: worker, err: err}
			if err == nil {
				if len(levels) == 0 {
					res.err = fmt.Errorf("worker %d returned no levels", worker)
				} else {
					res.rendering = levels[len(levels)-1]
				}
			}
			resultChan <- res
		}(w)
	}

	// Collect results
	shards := make([]*models.Rendering, numWorkers)
	var firstErr error
	for completed := 0; completed < numWorkers; completed++ {
		res := <-resultChan
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("worker %d: %w", res.worker, res.err)
		}
		shards[res.worker] = res.rendering
	}
	if firstErr != nil {
		return nil, 0, firstErr
	}

	out, err := models.ConcatRenderings(shards...)
	if err != nil {
		return nil, 0, err
	}
	out.Truncate(n)
	return out, pad, nil
}
