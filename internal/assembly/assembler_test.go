package assembly_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/internal/assembly"
	"mediaforge/internal/logging"
	"mediaforge/internal/services"
	"mediaforge/internal/testsupport"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	// failOn makes any invocation whose args contain the substring fail.
	failOn string
}

func (r *recordingRunner) Run(_ context.Context, _ string, args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), args...))
	if r.failOn != "" && strings.Contains(strings.Join(args, " "), r.failOn) {
		return errors.New("filter graph rejected")
	}
	return nil
}

func (r *recordingRunner) joined(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.calls[i], " ")
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixedProber struct{ seconds float64 }

func (p fixedProber) Duration(context.Context, string) (float64, error) { return p.seconds, nil }

func writeClips(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "clip"+string(rune('a'+i))+".mp4")
		testsupport.WriteFile(t, paths[i], 16)
	}
	return paths
}

func newAssembler(t *testing.T, runner *recordingRunner) *assembly.Assembler {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return assembly.New(cfg, logging.NewNop(), assembly.WithRunner(runner), assembly.WithProber(fixedProber{seconds: 5}))
}

func TestAssembleWithTransitionsAppliesOverlaps(t *testing.T) {
	runner := &recordingRunner{}
	asm := newAssembler(t, runner)
	paths := writeClips(t, 3)

	clips := []assembly.Clip{{Path: paths[0], Duration: 5}, {Path: paths[1], Duration: 5}, {Path: paths[2], Duration: 5}}
	result, err := asm.Assemble(context.Background(), clips, assembly.Options{WithTransitions: true, TransitionSeconds: 1})
	require.NoError(t, err)

	assert.InDelta(t, 13.0, result.Duration, 1e-9)
	assert.Equal(t, 2, result.Transitions)
	assert.False(t, result.FellBack)
	require.Equal(t, 1, runner.count())
	args := runner.joined(0)
	assert.Contains(t, args, "xfade=transition=fade:duration=1.000:offset=4.000")
	assert.Contains(t, args, "xfade=transition=fade:duration=1.000:offset=8.000")
	assert.Contains(t, args, "acrossfade=d=1.000")
	assert.True(t, strings.HasSuffix(args, result.OutputPath))
}

func TestAssembleWithoutTransitionsConcatenates(t *testing.T) {
	paths := writeClips(t, 3)
	clips := []assembly.Clip{{Path: paths[0], Duration: 5}, {Path: paths[1], Duration: 5}, {Path: paths[2], Duration: 5}}

	for name, opts := range map[string]assembly.Options{
		"disabled":       {WithTransitions: false, TransitionSeconds: 1},
		"zero_length":    {WithTransitions: true, TransitionSeconds: 0},
		"explicit_empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			runner := &recordingRunner{}
			asm := newAssembler(t, runner)
			result, err := asm.Assemble(context.Background(), clips, opts)
			require.NoError(t, err)
			assert.InDelta(t, 15.0, result.Duration, 1e-9)
			assert.Zero(t, result.Transitions)
			require.Equal(t, 1, runner.count())
			args := runner.joined(0)
			assert.Contains(t, args, "-f concat -safe 0")
			assert.Contains(t, args, "-c copy")
			assert.NotContains(t, args, "xfade")
		})
	}
}

func TestAssembleSingleClipSkipsTransitions(t *testing.T) {
	runner := &recordingRunner{}
	asm := newAssembler(t, runner)
	paths := writeClips(t, 1)

	result, err := asm.Assemble(context.Background(), []assembly.Clip{{Path: paths[0], Duration: 3}},
		assembly.Options{WithTransitions: true, TransitionSeconds: 2})
	require.NoError(t, err)
	assert.InDelta(t, 3, result.Duration, 1e-9)
	assert.NotContains(t, runner.joined(0), "xfade")

	_, err = asm.Assemble(context.Background(), []assembly.Clip{{Path: paths[0], Duration: 0.5}},
		assembly.Options{WithTransitions: true, TransitionSeconds: 2})
	assert.ErrorIs(t, err, services.ErrInput)
	assert.Equal(t, 1, runner.count(), "engine must not run for invalid input")
}

func TestAssembleRejectsTransitionLongerThanShortestClip(t *testing.T) {
	runner := &recordingRunner{}
	asm := newAssembler(t, runner)
	paths := writeClips(t, 2)

	_, err := asm.Assemble(context.Background(),
		[]assembly.Clip{{Path: paths[0], Duration: 5}, {Path: paths[1], Duration: 1}},
		assembly.Options{WithTransitions: true, TransitionSeconds: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInput)
	assert.Zero(t, runner.count(), "engine must not run for invalid input")
}

func TestAssembleValidatesInputs(t *testing.T) {
	runner := &recordingRunner{}
	asm := newAssembler(t, runner)
	ctx := context.Background()

	_, err := asm.Assemble(ctx, nil, assembly.Options{})
	assert.ErrorIs(t, err, services.ErrInput)

	_, err = asm.Assemble(ctx, []assembly.Clip{{Path: filepath.Join(t.TempDir(), "missing.mp4"), Duration: 3}}, assembly.Options{})
	assert.ErrorIs(t, err, services.ErrResource)

	paths := writeClips(t, 2)
	_, err = asm.Assemble(ctx, []assembly.Clip{{Path: paths[0], Duration: 3}, {Path: paths[1], Duration: 3}},
		assembly.Options{WithTransitions: true, TransitionSeconds: -1})
	assert.ErrorIs(t, err, services.ErrInput)

	assert.Zero(t, runner.count())
}

func TestAssembleProbesUnknownDurations(t *testing.T) {
	runner := &recordingRunner{}
	asm := newAssembler(t, runner)
	paths := writeClips(t, 2)

	result, err := asm.Assemble(context.Background(),
		[]assembly.Clip{{Path: paths[0]}, {Path: paths[1]}},
		assembly.Options{WithTransitions: true, TransitionSeconds: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 9.5, result.Duration, 1e-9)
}

func TestAssembleFallsBackToConcat(t *testing.T) {
	runner := &recordingRunner{failOn: "xfade"}
	asm := newAssembler(t, runner)
	paths := writeClips(t, 2)

	result, err := asm.Assemble(context.Background(),
		[]assembly.Clip{{Path: paths[0], Duration: 4}, {Path: paths[1], Duration: 4}},
		assembly.Options{WithTransitions: true, TransitionSeconds: 1})
	require.NoError(t, err)
	assert.True(t, result.FellBack)
	assert.Zero(t, result.Transitions)
	assert.InDelta(t, 8.0, result.Duration, 1e-9)
	require.Equal(t, 2, runner.count())
	assert.Contains(t, runner.joined(1), "-f concat")
}

func TestAssembleWithoutFallbackSurfacesFailure(t *testing.T) {
	runner := &recordingRunner{failOn: "xfade"}
	cfg := testsupport.NewConfig(t)
	cfg.Assembly.FallbackToConcat = false
	asm := assembly.New(cfg, logging.NewNop(), assembly.WithRunner(runner))
	paths := writeClips(t, 2)

	_, err := asm.Assemble(context.Background(),
		[]assembly.Clip{{Path: paths[0], Duration: 4}, {Path: paths[1], Duration: 4}},
		assembly.Options{WithTransitions: true, TransitionSeconds: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrResource)
	assert.Equal(t, 1, runner.count())
}

func TestAssembleWritesUnderOutputDir(t *testing.T) {
	runner := &recordingRunner{}
	cfg := testsupport.NewConfig(t)
	asm := assembly.New(cfg, logging.NewNop(), assembly.WithRunner(runner))
	paths := writeClips(t, 1)

	result, err := asm.Assemble(context.Background(), []assembly.Clip{{Path: paths[0], Duration: 2}}, assembly.Options{})
	require.NoError(t, err)
	assert.Equal(t, cfg.Assembly.OutputDir, filepath.Dir(result.OutputPath))
	info, err := os.Stat(cfg.Assembly.OutputDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(cfg.Assembly.OutputDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".concat-"), "concat list should be removed")
	}
}

func TestAssembleGridLayouts(t *testing.T) {
	cases := []struct {
		layout assembly.Layout
		clips  int
		filter string
	}{
		{assembly.LayoutHorizontal, 2, "hstack=inputs=2[v]"},
		{assembly.LayoutVertical, 2, "vstack=inputs=2[v]"},
		{assembly.LayoutGrid, 4, "[top][bottom]vstack=inputs=2[v]"},
	}
	for _, tc := range cases {
		t.Run(string(tc.layout), func(t *testing.T) {
			runner := &recordingRunner{}
			asm := newAssembler(t, runner)
			paths := writeClips(t, tc.clips)
			clips := make([]assembly.Clip, len(paths))
			for i, p := range paths {
				clips[i] = assembly.Clip{Path: p, Duration: float64(i + 2)}
			}
			result, err := asm.AssembleGrid(context.Background(), clips, tc.layout, "")
			require.NoError(t, err)
			assert.Equal(t, tc.layout, result.Layout)
			assert.InDelta(t, float64(tc.clips+1), result.Duration, 1e-9)
			assert.Contains(t, runner.joined(0), tc.filter)
			assert.Contains(t, runner.joined(0), "scale=640:360,setsar=1")
		})
	}
}

func TestAssembleGridRejectsCountMismatch(t *testing.T) {
	runner := &recordingRunner{}
	asm := newAssembler(t, runner)
	paths := writeClips(t, 3)
	clips := []assembly.Clip{{Path: paths[0], Duration: 1}, {Path: paths[1], Duration: 1}, {Path: paths[2], Duration: 1}}

	_, err := asm.AssembleGrid(context.Background(), clips, assembly.LayoutGrid, "")
	assert.ErrorIs(t, err, services.ErrInput)
	_, err = asm.AssembleGrid(context.Background(), clips, assembly.Layout("diagonal"), "")
	assert.ErrorIs(t, err, services.ErrInput)
	assert.Zero(t, runner.count())
}
