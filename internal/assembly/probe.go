package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFprobeProber probes durations with the configured ffprobe binary.
type FFprobeProber struct {
	Binary string
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Duration implements Prober. The container duration wins; otherwise the
// longest stream is used.
func (p FFprobeProber) Duration(ctx context.Context, path string) (float64, error) {
	binary := strings.TrimSpace(p.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("ffprobe: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	if d := parseSeconds(parsed.Format.Duration); d > 0 {
		return d, nil
	}
	var longest float64
	for _, stream := range parsed.Streams {
		longest = max(longest, parseSeconds(stream.Duration))
	}
	if longest <= 0 {
		return 0, fmt.Errorf("ffprobe %s: no duration reported", path)
	}
	return longest, nil
}

func parseSeconds(value string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
