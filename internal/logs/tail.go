package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the daemon log written by logging.NewFromConfig.
const FileName = "mediaforge.log"

const pollInterval = 250 * time.Millisecond

// Path returns the daemon log location under logDir.
func Path(logDir string) string {
	return filepath.Join(logDir, FileName)
}

// TailOptions selects what Tail returns. A negative Offset means "the last
// Limit lines"; otherwise reading starts at Offset bytes.
type TailOptions struct {
	Offset int64
	Limit  int
	// Match keeps only lines containing the substring, such as a job id.
	Match string
	// Wait bounds how long Tail polls for new lines when none are available.
	Wait time.Duration
}

// TailResult holds matching lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads the log at path. A missing file yields no lines and offset zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return TailResult{}, err
	}
	defer file.Close()

	start := opts.Offset
	keep := 0
	if start < 0 {
		start = 0
		keep = opts.Limit
		if keep <= 0 {
			size, err := file.Seek(0, io.SeekEnd)
			return TailResult{Offset: size}, err
		}
	}
	result, err := scan(file, start, keep, opts.Match)
	if err != nil || len(result.Lines) > 0 || opts.Wait <= 0 {
		return result, err
	}

	deadline := time.Now().Add(opts.Wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
		next, err := scan(file, result.Offset, 0, opts.Match)
		if err != nil {
			return result, err
		}
		if len(next.Lines) > 0 {
			return next, nil
		}
		result.Offset = next.Offset
	}
	return result, nil
}

// Follow emits every matching line appended after offset until ctx is
// cancelled. It returns nil on cancellation.
func Follow(ctx context.Context, path string, offset int64, match string, emit func(string)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		result, err := Tail(ctx, path, TailOptions{Offset: offset, Match: match})
		if err != nil {
			return err
		}
		for _, line := range result.Lines {
			emit(line)
		}
		offset = result.Offset
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

// scan reads complete lines from start. keep > 0 retains only the last keep
// matches. A trailing partial line is left for the next call. A start past
// the end means the file was truncated, so reading restarts at zero.
func scan(file *os.File, start int64, keep int, match string) (TailResult, error) {
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}
	if start > size {
		start = 0
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	offset := start
	var lines []string
	for {
		raw, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TailResult{}, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		lines = append(lines, line)
		if keep > 0 && len(lines) > keep {
			lines = lines[len(lines)-keep:]
		}
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}
