package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaforge/internal/config"
	"mediaforge/internal/keyedlock"
	"mediaforge/internal/logging"
	"mediaforge/internal/services"
)

const stageName = "assembly"

// Clip is one input to an assembly. A zero Duration is probed.
type Clip struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// Options controls sequential assembly.
type Options struct {
	WithTransitions   bool
	TransitionSeconds float64
	// OutputPath is generated under the output directory when empty.
	OutputPath string
}

// Result describes an assembled output.
type Result struct {
	OutputPath  string  `json:"output_path"`
	Duration    float64 `json:"duration"`
	// Transitions counts the crossfades applied.
	Transitions int     `json:"transitions"`
	FellBack    bool    `json:"fell_back,omitempty"`
	Layout      Layout  `json:"layout,omitempty"`
}

// Assembler stitches clips with ffmpeg. Safe for concurrent use; calls that
// target the same output path are serialized.
type Assembler struct {
	ffmpeg    string
	outputDir string
	fallback  bool
	runner    Runner
	prober    Prober
	logger    *slog.Logger
	paths     keyedlock.Map
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithRunner overrides how ffmpeg is executed.
func WithRunner(runner Runner) Option {
	return func(a *Assembler) {
		if runner != nil {
			a.runner = runner
		}
	}
}

// WithProber overrides how unknown durations are resolved.
func WithProber(prober Prober) Option {
	return func(a *Assembler) {
		if prober != nil {
			a.prober = prober
		}
	}
}

// New builds an Assembler from the [assembly] config section.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		ffmpeg:   "ffmpeg",
		fallback: true,
		runner:   ExecRunner{},
		prober:   FFprobeProber{Binary: "ffprobe"},
		logger:   logging.NewComponentLogger(logger, "assembly"),
	}
	if cfg != nil {
		a.ffmpeg = cfg.Assembly.FFmpegBinary
		a.outputDir = cfg.Assembly.OutputDir
		a.fallback = cfg.Assembly.FallbackToConcat
		a.prober = FFprobeProber{Binary: cfg.Assembly.FFprobeBinary}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble combines clips in list order. Without transitions (or with a zero
// transition) clips are concatenated without re-encoding; otherwise adjacent
// clips crossfade for TransitionSeconds.
func (a *Assembler) Assemble(ctx context.Context, clips []Clip, opts Options) (Result, error) {
	if len(clips) == 0 {
		return Result{}, services.Input("assemble", "clip list is empty")
	}
	if opts.TransitionSeconds < 0 {
		return Result{}, services.Input("assemble", "transition length %.3fs must be >= 0", opts.TransitionSeconds)
	}
	resolved, err := a.resolveClips(ctx, clips)
	if err != nil {
		return Result{}, err
	}
	durations := clipDurations(resolved)

	var offsets []float64
	if opts.WithTransitions && opts.TransitionSeconds > 0 {
		offsets, err = ComputeOffsets(durations, opts.TransitionSeconds)
		if err != nil {
			return Result{}, services.Wrap(services.ErrInput, stageName, "validate transitions", "", err)
		}
	}
	useTransitions := len(offsets) > 0

	output, err := a.prepareOutput(opts.OutputPath)
	if err != nil {
		return Result{}, err
	}
	unlock := a.paths.Lock(output)
	defer unlock()

	logger := logging.WithContext(ctx, a.logger).With(
		logging.String("output", output),
		logging.Int("clip_count", len(resolved)),
	)
	started := time.Now()

	if !useTransitions {
		if err := a.concat(ctx, resolved, output); err != nil {
			return Result{}, err
		}
		result := Result{OutputPath: output, Duration: TotalDuration(durations, 0)}
		logger.Info("clips concatenated",
			logging.String(logging.FieldEventType, "assembly_complete"),
			logging.Float64("duration_seconds", result.Duration),
			logging.Duration("elapsed", time.Since(started)),
		)
		return result, nil
	}

	args := buildCrossfadeArgs(resolved, offsets, opts.TransitionSeconds, output)
	if err := a.runner.Run(ctx, a.ffmpeg, args); err != nil {
		if ctx.Err() != nil {
			return Result{}, services.Wrap(services.ErrCollaborator, stageName, "crossfade", "cancelled", ctx.Err())
		}
		if !a.fallback {
			return Result{}, services.Wrap(services.ErrResource, stageName, "crossfade", "transition render failed", err)
		}
		logging.WarnWithContext(logger, "crossfade failed; falling back to concatenation", "assembly_fallback",
			logging.Alert("transition_fallback"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check clip codecs match or set assembly.fallback_to_concat=false to surface the failure"),
		)
		_ = os.Remove(output)
		if err := a.concat(ctx, resolved, output); err != nil {
			return Result{}, err
		}
		return Result{OutputPath: output, Duration: TotalDuration(durations, 0), FellBack: true}, nil
	}

	result := Result{
		OutputPath:  output,
		Duration:    TotalDuration(durations, opts.TransitionSeconds),
		Transitions: len(resolved) - 1,
	}
	logger.Info("clips crossfaded",
		logging.String(logging.FieldEventType, "assembly_complete"),
		logging.Float64("transition_seconds", opts.TransitionSeconds),
		logging.Float64("duration_seconds", result.Duration),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// AssembleGrid composes clips spatially. The clip count must equal the
// layout's slot count.
func (a *Assembler) AssembleGrid(ctx context.Context, clips []Clip, layout Layout, outputPath string) (Result, error) {
	slots, err := layout.Slots()
	if err != nil {
		return Result{}, services.Wrap(services.ErrInput, stageName, "grid", "", err)
	}
	if len(clips) != slots {
		return Result{}, services.Input("assemble grid", "layout %s needs exactly %d clips, got %d", layout, slots, len(clips))
	}
	resolved, err := a.resolveClips(ctx, clips)
	if err != nil {
		return Result{}, err
	}

	output, err := a.prepareOutput(outputPath)
	if err != nil {
		return Result{}, err
	}
	unlock := a.paths.Lock(output)
	defer unlock()

	args := buildGridArgs(resolved, layout, output)
	if err := a.runner.Run(ctx, a.ffmpeg, args); err != nil {
		return Result{}, services.Wrap(services.ErrResource, stageName, "grid", string(layout), err)
	}

	var longest float64
	for _, clip := range resolved {
		longest = max(longest, clip.Duration)
	}
	a.logger.Info("grid assembled",
		logging.String(logging.FieldEventType, "assembly_complete"),
		logging.String("layout", string(layout)),
		logging.String("output", output),
	)
	return Result{OutputPath: output, Duration: longest, Layout: layout}, nil
}

// resolveClips checks readability and fills unknown durations.
func (a *Assembler) resolveClips(ctx context.Context, clips []Clip) ([]Clip, error) {
	resolved := make([]Clip, len(clips))
	for i, clip := range clips {
		path := strings.TrimSpace(clip.Path)
		if path == "" {
			return nil, services.Input("assemble", "clip %d has no path", i)
		}
		if err := checkReadable(path); err != nil {
			return nil, services.Wrap(services.ErrResource, stageName, "validate", fmt.Sprintf("clip %d", i), err)
		}
		if clip.Duration < 0 {
			return nil, services.Input("assemble", "clip %d has negative duration", i)
		}
		if clip.Duration == 0 {
			d, err := a.prober.Duration(ctx, path)
			if err != nil {
				return nil, services.Wrap(services.ErrResource, stageName, "probe", fmt.Sprintf("clip %d", i), err)
			}
			clip.Duration = d
		}
		clip.Path = path
		resolved[i] = clip
	}
	return resolved, nil
}

func (a *Assembler) prepareOutput(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		dir := a.outputDir
		if dir == "" {
			dir = os.TempDir()
		}
		path = filepath.Join(dir, "assembled_"+uuid.NewString()+".mp4")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", services.Wrap(services.ErrResource, stageName, "prepare output", path, err)
	}
	return path, nil
}

func (a *Assembler) concat(ctx context.Context, clips []Clip, output string) error {
	listFile, err := writeConcatList(clips, filepath.Dir(output))
	if err != nil {
		return services.Wrap(services.ErrResource, stageName, "concat", "write list", err)
	}
	defer os.Remove(listFile)

	if err := a.runner.Run(ctx, a.ffmpeg, buildConcatArgs(listFile, output)); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCollaborator, stageName, "concat", "cancelled", ctx.Err())
		}
		return services.Wrap(services.ErrResource, stageName, "concat", "", err)
	}
	return nil
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s does not exist", path)
		}
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func clipDurations(clips []Clip) []float64 {
	out := make([]float64, len(clips))
	for i, clip := range clips {
		out[i] = clip.Duration
	}
	return out
}
