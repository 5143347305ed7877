package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"mipnerf/internal/logging"
	"mipnerf/internal/models"
	"mipnerf/pkg/camera"
	"mipnerf/pkg/config"
	"mipnerf/pkg/field"
	"mipnerf/pkg/metrics"
	"mipnerf/pkg/prng"
	"mipnerf/pkg/render"
	"mipnerf/pkg/visualization"
)

const framePattern = "rgb_%03d.png"

// setupLogging configures logging from the verbosity flags and, once it is
// loaded, the configuration. cfg may be nil.
func setupLogging(ctx *cli.Context, cfg *config.Config) {
	logging.Setup(logLevel(ctx.GlobalBool("v"), ctx.GlobalBool("vv"), cfg))
}

// logLevel lowers the default level to warnings when output.verbose is off.
// The verbosity flags always win.
func logLevel(verbose, veryVerbose bool, cfg *config.Config) zerolog.Level {
	level := logging.Level(verbose, veryVerbose)
	if cfg != nil && !cfg.Output.Verbose && level == zerolog.InfoLevel {
		return zerolog.WarnLevel
	}
	return level
}

func initConfig(ctx *cli.Context) error {
	setupLogging(ctx, nil)
	out := ctx.String("out")
	if err := config.CreateDefaultConfigFile(out); err != nil {
		return err
	}
	logger := logging.New("cli")
	logger.Info().Str("path", out).Msg("wrote default configuration")
	return nil
}

func initParams(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	setupLogging(ctx, cfg)
	logger := logging.New("cli")

	seed := cfg.Render.Seed
	if ctx.IsSet("seed") {
		seed = ctx.Uint64("seed")
	}

	mlp, err := field.NewMLP(cfg.MLP, prng.NewKey(seed))
	if err != nil {
		return err
	}
	out := ctx.String("out")
	if err := field.SaveParamsFile(out, mlp); err != nil {
		return err
	}
	logger.Info().Str("path", out).Int("params", mlp.NumParams()).Uint64("seed", seed).Msg("wrote network parameters")
	return nil
}

// pipeline bundles what every rendering command needs
type pipeline struct {
	cfg   *config.Config
	model *render.Model
	root  prng.Key
}

// newPipeline loads the configuration and the field, and sets up logging.
func newPipeline(ctx *cli.Context) (*pipeline, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	setupLogging(ctx, cfg)

	var f field.Field
	if ctx.Bool("constant") {
		f = field.ConstantField{Density: 1, Color: models.RGB{0.5, 0.5, 0.5}}
	} else {
		mlp, err := field.LoadParamsFile(ctx.String("params"), cfg.MLP)
		if err != nil {
			return nil, err
		}
		f = mlp
	}

	model, err := render.NewModel(cfg.Model, f)
	if err != nil {
		return nil, err
	}
	return &pipeline{cfg: cfg, model: model, root: prng.NewKey(cfg.Render.Seed)}, nil
}

// renderView renders frame i of a camera at pose c2w.
func (p *pipeline) renderView(ctx context.Context, cam camera.Pinhole, c2w mgl64.Mat4, i int) (*models.Image, render.RenderStats, error) {
	near, far := p.cfg.Render.Near, p.cfg.Render.Far
	rays := cam.GenerateRays(c2w, near, far)
	if p.cfg.Camera.NDC {
		rays = camera.ConvertToNDC(rays, cam.Focal, cam.Width, cam.Height, 1)
	}

	key := p.root.FoldIn(uint64(i))
	opts := render.ImageOptions{
		ChunkSize:   p.cfg.Render.ChunkSize,
		NumWorkers:  p.cfg.Render.NumWorkers,
		LogProgress: p.cfg.Render.LogProgress,
	}
	return render.RenderImage(ctx, p.model.RenderFunc(1), &key, rays, cam.Width, cam.Height, opts)
}

// depthRange is the distance range mapped onto the depth maps
func (p *pipeline) depthRange() (float64, float64) {
	if p.cfg.Camera.NDC {
		return 0, 1
	}
	return p.cfg.Render.Near, p.cfg.Render.Far
}

func (p *pipeline) save(img *models.Image, dir string, i int) ([]string, error) {
	near, far := p.depthRange()
	return visualization.NewViewer(img, near, far).SaveAll(dir, i, visualization.SaveOptions{
		Depth:   p.cfg.Output.SaveDepth,
		Acc:     p.cfg.Output.SaveAcc,
		Normals: p.cfg.Output.SaveNormals,
	})
}

// cameraPath returns the camera and the poses of the configured path.
func cameraPath(cfg *config.Config, transformsPath string) (camera.Pinhole, []mgl64.Mat4, error) {
	cam := camera.NewPinholeFOV(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FOV)
	if cfg.Camera.Path == "orbit" {
		return cam, camera.Orbit(cfg.Camera.PathFrames, cfg.Camera.OrbitRadius, cfg.Camera.OrbitElevation), nil
	}

	if transformsPath == "" {
		return cam, nil, fmt.Errorf("camera path %q needs a transforms file", cfg.Camera.Path)
	}
	t, err := camera.LoadTransforms(transformsPath)
	if err != nil {
		return cam, nil, err
	}
	if len(t.Frames) == 0 {
		return cam, nil, fmt.Errorf("transforms file %s has no frames", transformsPath)
	}
	cam.Focal = t.Focal(cam.Width)

	if cfg.Camera.Path == "spiral" {
		return cam, camera.Spiral(t.Poses(), cfg.Render.Near, cfg.Render.Far, cfg.Camera.PathFrames, 2, 0.5), nil
	}
	return cam, t.Poses(), nil
}

func limitFrames(n, limit int) int {
	if limit > 0 && limit < n {
		return limit
	}
	return n
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func renderPath(ctx *cli.Context) error {
	p, err := newPipeline(ctx)
	if err != nil {
		return err
	}
	logger := logging.New("cli")
	cam, poses, err := cameraPath(p.cfg, ctx.String("transforms"))
	if err != nil {
		return err
	}
	poses = poses[:limitFrames(len(poses), ctx.Int("frames"))]

	outDir := ctx.String("out")
	if outDir == "" {
		outDir = p.cfg.Output.Dir
	}

	sigCtx, cancel := signalContext()
	defer cancel()

	logger.Info().
		Int("frames", len(poses)).
		Int("width", cam.Width).
		Int("height", cam.Height).
		Str("path", p.cfg.Camera.Path).
		Msg("rendering camera path")

	start := time.Now()
	stats := make([]render.RenderStats, 0, len(poses))
	for i, pose := range poses {
		img, st, err := p.renderView(sigCtx, cam, pose, i)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		written, err := p.save(img, outDir, i)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		logger.Debug().Strs("files", written).Int("frame", i).Dur("took", st.Duration).Msg("saved frame")
		stats = append(stats, st)
	}

	angleX := 2 * math.Atan(0.5*float64(cam.Width)/cam.Focal)
	if err := camera.SaveTransforms(filepath.Join(outDir, "transforms.json"), angleX, poses, framePattern); err != nil {
		return err
	}

	displayRenderStats(stats)
	logger.Info().Str("dir", outDir).Dur("took", time.Since(start)).Msg("rendering completed")
	return nil
}

func evaluate(ctx *cli.Context) error {
	transformsPath := ctx.String("transforms")
	if transformsPath == "" {
		return errors.New("eval needs a transforms file")
	}
	p, err := newPipeline(ctx)
	if err != nil {
		return err
	}
	logger := logging.New("cli")
	t, err := camera.LoadTransforms(transformsPath)
	if err != nil {
		return err
	}

	sigCtx, cancel := signalContext()
	defer cancel()

	n := limitFrames(len(t.Frames), ctx.Int("frames"))
	views := make([]metrics.View, 0, n)
	for i := 0; i < n; i++ {
		path := t.ImagePath(i)
		if dir := ctx.String("images"); dir != "" {
			path = filepath.Join(dir, filepath.Base(path))
		}
		ref, err := metrics.LoadImage(path)
		if err != nil {
			return err
		}
		ref = metrics.Downsample(ref, p.cfg.Camera.Downsample)

		b := ref.Bounds()
		cam := camera.Pinhole{Width: b.Dx(), Height: b.Dy(), Focal: t.Focal(b.Dx())}
		img, st, err := p.renderView(sigCtx, cam, t.Pose(i), i)
		if err != nil {
			return fmt.Errorf("view %d: %w", i, err)
		}

		m, err := metrics.Compare(img, ref, p.cfg.Model.WhiteBackground)
		if err != nil {
			return fmt.Errorf("view %d: %w", i, err)
		}
		logger.Info().
			Int("view", i).
			Float64("psnr", m.PSNR).
			Float64("ssim", m.SSIM).
			Dur("took", st.Duration).
			Msg("evaluated view")
		views = append(views, metrics.View{Name: filepath.Base(path), Metrics: m})

		if out := ctx.String("out"); out != "" {
			if _, err := p.save(img, out, i); err != nil {
				return fmt.Errorf("view %d: %w", i, err)
			}
		}
	}

	metrics.Report(os.Stdout, views)
	return nil
}

func displayRenderStats(stats []render.RenderStats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Frame", "Rays", "Padded rays", "Chunks", "Time", "Rays/s"})

	var total render.RenderStats
	for i, st := range stats {
		table.Append(statsRow(fmt.Sprint(i), st))
		total.Rays += st.Rays
		total.PaddedRays += st.PaddedRays
		total.Chunks += st.Chunks
		total.Duration += st.Duration
	}
	table.SetFooter(statsRow("TOTAL", total))
	table.Render()
}

func statsRow(name string, st render.RenderStats) []string {
	rate := 0.0
	if st.Duration > 0 {
		rate = float64(st.Rays) / st.Duration.Seconds()
	}
	return []string{
		name,
		fmt.Sprint(st.Rays),
		fmt.Sprint(st.PaddedRays),
		fmt.Sprint(st.Chunks),
		st.Duration.Round(time.Millisecond).String(),
		fmt.Sprintf("%.0f", rate),
	}
}
