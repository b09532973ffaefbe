package assembly

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout selects a spatial composition.
type Layout string

const (
	LayoutHorizontal Layout = "horizontal"
	LayoutVertical   Layout = "vertical"
	LayoutGrid       Layout = "grid"
)

// Slots returns how many clips the layout holds.
func (l Layout) Slots() (int, error) {
	switch l {
	case LayoutHorizontal, LayoutVertical:
		return 2, nil
	case LayoutGrid:
		return 4, nil
	default:
		return 0, fmt.Errorf("unknown layout %q (want horizontal, vertical, or grid)", string(l))
	}
}

const (
	cellWidth  = 640
	cellHeight = 360
)

func baseArgs() []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error"}
}

func writeConcatList(clips []Clip, dir string) (string, error) {
	f, err := os.CreateTemp(dir, ".concat-*.txt")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip.Path)
		if err != nil {
			abs = clip.Path
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func buildConcatArgs(listFile, output string) []string {
	args := baseArgs()
	return append(args, "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", output)
}

// buildCrossfadeArgs chains xfade for video and acrossfade for audio. Each
// step feeds the previous step's output label into the next blend.
func buildCrossfadeArgs(clips []Clip, offsets []float64, transition float64, output string) []string {
	args := baseArgs()
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	var filters []string
	videoIn, audioIn := "[0:v]", "[0:a]"
	for i := 1; i < len(clips); i++ {
		videoOut := fmt.Sprintf("[v%d]", i)
		audioOut := fmt.Sprintf("[a%d]", i)
		filters = append(filters,
			fmt.Sprintf("%s[%d:v]xfade=transition=fade:duration=%s:offset=%s%s",
				videoIn, i, formatSeconds(transition), formatSeconds(offsets[i-1]), videoOut),
			fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s", audioIn, i, formatSeconds(transition), audioOut),
		)
		videoIn, audioIn = videoOut, audioOut
	}

	return append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", videoIn,
		"-map", audioIn,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		output,
	)
}

func buildGridArgs(clips []Clip, layout Layout, output string) []string {
	args := baseArgs()
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	filters := make([]string, 0, len(clips)+3)
	for i := range clips {
		filters = append(filters, fmt.Sprintf("[%d:v]scale=%d:%d,setsar=1[s%d]", i, cellWidth, cellHeight, i))
	}
	switch layout {
	case LayoutHorizontal:
		filters = append(filters, "[s0][s1]hstack=inputs=2[v]")
	case LayoutVertical:
		filters = append(filters, "[s0][s1]vstack=inputs=2[v]")
	case LayoutGrid:
		filters = append(filters,
			"[s0][s1]hstack=inputs=2[top]",
			"[s2][s3]hstack=inputs=2[bottom]",
			"[top][bottom]vstack=inputs=2[v]",
		)
	}
	var audioInputs strings.Builder
	for i := range clips {
		fmt.Fprintf(&audioInputs, "[%d:a]", i)
	}
	filters = append(filters, fmt.Sprintf("%samix=inputs=%d:duration=longest[a]", audioInputs.String(), len(clips)))

	return append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		output,
	)
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}
