// Package denoise runs the full sequence restoration pipeline: hot
// pixel repair, median prefiltering for motion estimation, and one
// temporal-window reconstruction per frame, processed in parallel.
//
// Each frame is restored from a window of neighbouring frames. The
// window is normalized, its noise parameters estimated, patch motion
// tracked on the prefiltered copy, and the patch stacks denoised by
// singular value thresholding with a risk-optimized (or fixed)
// threshold. Only the window's reference frame enters the output, so
// frames are independent and safe to process concurrently.
package denoise

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"

	"github.com/ericpre/pgure-svt/internal/models"
	"github.com/ericpre/pgure-svt/pkg/config"
	"github.com/ericpre/pgure-svt/pkg/filter"
	"github.com/ericpre/pgure-svt/pkg/motion"
	"github.com/ericpre/pgure-svt/pkg/noise"
	"github.com/ericpre/pgure-svt/pkg/pgure"
)

// Denoiser applies the configured pipeline to whole sequences.
type Denoiser struct {
	cfg *config.Config
	log zerolog.Logger

	// warmLambda carries the previous window's optimum across frames
	// as a starting point for the next search.
	warmLambda atomic.Uint64
	warmSet    atomic.Bool
}

// New returns a denoiser for the given configuration.
func New(cfg *config.Config, log zerolog.Logger) *Denoiser {
	return &Denoiser{cfg: cfg, log: log}
}

// frameResult carries one restored frame back to the collector.
type frameResult struct {
	frame    int
	data     []float64
	lambda   float64
	params   noise.Params
	duration time.Duration
	err      error
}

// Process restores every frame of the sequence and returns a new
// sequence of the same dimensions. The input is not modified beyond
// hot pixel repair. A frame whose window fails to process falls back
// to the input frame, reported through the logger rather than as a
// hard error.
func (d *Denoiser) Process(seq *models.Sequence) (*models.Sequence, error) {
	if seq.Width != seq.Height {
		return nil, fmt.Errorf("denoise: frames must be square, got %dx%d", seq.Width, seq.Height)
	}
	if err := d.cfg.Validate(seq.Width); err != nil {
		return nil, err
	}
	window := d.cfg.ClampTrajectory(seq.Frames)

	if d.cfg.HotPixelThreshold > 0 {
		if repaired := filter.RepairHotPixels(seq, d.cfg.HotPixelThreshold); repaired > 0 {
			d.log.Info().Int("pixels", repaired).Msg("repaired hot pixels")
		}
	}

	// Motion is estimated on a median-filtered copy so that single
	// noisy pixels do not pull block matches around.
	filtered := seq
	if d.cfg.MedianSize > 1 {
		var err error
		filtered, err = filter.Median(seq, d.cfg.MedianSize)
		if err != nil {
			return nil, err
		}
	}

	out := models.NewSequence(seq.Width, seq.Height, seq.Frames)
	workers := d.workerCount(seq, window)
	d.log.Info().
		Int("frames", seq.Frames).
		Int("window", window).
		Int("workers", workers).
		Bool("optimize", d.cfg.OptimizePGURE).
		Msg("starting denoising")

	results := make(chan frameResult)
	limiter := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for k := 0; k < seq.Frames; k++ {
		wg.Add(1)
		go func(frame int) {
			defer wg.Done()
			limiter <- struct{}{}
			defer func() { <-limiter }()

			began := time.Now()
			res := d.processFrame(seq, filtered, frame, window)
			res.duration = time.Since(began)
			results <- res
		}(k)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			// Fall back to the unprocessed frame so one bad window
			// does not sink the whole sequence.
			d.log.Error().Err(res.err).Int("frame", res.frame).Msg("frame failed, passing input through")
			copy(out.FrameData(res.frame), seq.FrameData(res.frame))
			continue
		}
		copy(out.FrameData(res.frame), res.data)
		d.log.Info().
			Int("frame", res.frame).
			Float64("alpha", res.params.Alpha).
			Float64("mu", res.params.Mu).
			Float64("sigma", res.params.Sigma).
			Float64("lambda", res.lambda).
			Dur("took", res.duration).
			Msg("frame denoised")
	}

	return out, nil
}

// processFrame restores a single frame from its temporal window.
func (d *Denoiser) processFrame(seq, filtered *models.Sequence, frame, window int) frameResult {
	res := frameResult{frame: frame}

	start, ref := models.WindowBounds(frame, window, seq.Frames)
	raw, err := seq.Window(start, window)
	if err != nil {
		res.err = err
		return res
	}
	umax := raw.Normalize()
	if umax == 0 {
		// Nothing to denoise in an all-zero window.
		res.data = raw.FrameData(ref)
		return res
	}

	params := noise.Params{Alpha: d.cfg.NoiseAlpha, Mu: d.cfg.NoiseMu, Sigma: d.cfg.NoiseSigma}
	if d.cfg.OptimizePGURE {
		est := noise.Estimator{PatchSize: 8, Method: d.cfg.NoiseMethod}
		params = est.Estimate(raw, params)
	}
	res.params = params

	field, err := d.estimateMotion(filtered, frame, window, umax, seq.Frames)
	if err != nil {
		res.err = err
		return res
	}

	opt := pgure.New()
	if err := opt.Initialize(raw, field, d.cfg.PatchSize, d.cfg.PatchOverlap,
		params, d.cfg.ExponentialWeighting); err != nil {
		res.err = err
		return res
	}

	lambda := d.cfg.Lambda
	if d.cfg.OptimizePGURE {
		lambda, err = opt.Optimize(d.cfg.Tolerance, d.seedLambda(raw), raw.Max(), d.cfg.MaxIter)
		if err != nil {
			res.err = err
			return res
		}
		d.storeWarmLambda(lambda)
	}
	res.lambda = lambda

	recon, err := opt.Reconstruct(lambda)
	if err != nil {
		res.err = err
		return res
	}
	recon.Scale(umax)

	res.data = recon.FrameData(ref)
	return res
}

// estimateMotion runs block matching on the prefiltered window, scaled
// to match the normalized data. A window too short for matching yields
// the identity field.
func (d *Denoiser) estimateMotion(filtered *models.Sequence, frame, window int, umax float64, numFrames int) (*motion.Field, error) {
	if window < 2 {
		return motion.Identity(filtered.Width, d.cfg.PatchSize, window), nil
	}

	start, _ := models.WindowBounds(frame, window, numFrames)
	win, err := filtered.Window(start, window)
	if err != nil {
		return nil, err
	}
	if umax > 0 {
		win.Scale(1 / umax)
	}

	est := motion.Estimator{
		BlockSize:    d.cfg.PatchSize,
		SearchWindow: d.cfg.MotionNeighbourhood,
	}
	return est.Estimate(win, frame, window/2, numFrames)
}

// seedLambda picks the starting threshold for the risk search: the
// previous window's optimum when available, otherwise the window mean.
func (d *Denoiser) seedLambda(window *models.Sequence) float64 {
	if d.warmSet.Load() {
		return math.Float64frombits(d.warmLambda.Load())
	}
	return window.Mean()
}

func (d *Denoiser) storeWarmLambda(lambda float64) {
	d.warmLambda.Store(math.Float64bits(lambda))
	d.warmSet.Store(true)
}

// workerCount caps the pool width at the configured core count, further
// reduced if the per-window working set would overcommit physical
// memory.
func (d *Denoiser) workerCount(seq *models.Sequence, window int) int {
	workers := d.cfg.NumCores
	if workers > seq.Frames {
		workers = seq.Frames
	}

	// Dominant cost per worker is the stored decomposition: one set of
	// SVD factors per patch position across the window.
	stride := seq.Width - d.cfg.PatchSize + 1
	patches := stride * stride
	perPatch := (d.cfg.PatchSize*d.cfg.PatchSize*window + window*window + window) * 8
	perWorker := uint64(patches * perPatch * 2)
	if perWorker > 0 {
		if budget := int(memory.TotalMemory() / perWorker); budget < workers {
			workers = budget
		}
	}

	if workers < 1 {
		workers = 1
	}
	return workers
}
