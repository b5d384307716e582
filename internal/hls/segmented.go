package hls

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Nm3u8Config configures the segmented-parallel backend. Field names and
// defaults are grounded on
// _examples/original_source/src/yuna/providers/streamingcommunity/nm3u8_downloader.py's
// Nm3u8Config dataclass.
type Nm3u8Config struct {
	BinaryPath     string
	ThreadCount    int
	RetryCount     int
	TimeoutSeconds int
	TempDir        string
	AutoSelect     bool
	MaxSpeed       string // e.g. "15M", "100K"; empty means unbounded
}

func DefaultNm3u8Config() Nm3u8Config {
	return Nm3u8Config{
		ThreadCount:    16,
		RetryCount:     3,
		TimeoutSeconds: 100,
		AutoSelect:     true,
	}
}

// SegmentedFetcher shells out to N_m3u8DL-RE, a segmented-parallel HLS
// downloader, and parses its progress bar from stdout/stderr.
type SegmentedFetcher struct {
	cfg  Nm3u8Config
	tool *ToolInfo
}

func NewSegmentedFetcher(cfg Nm3u8Config) *SegmentedFetcher {
	return &SegmentedFetcher{
		cfg:  cfg,
		tool: DetectTool("N_m3u8DL-RE", cfg.BinaryPath),
	}
}

func (f *SegmentedFetcher) Available() bool { return f.tool.Available }

func (f *SegmentedFetcher) Fetch(ctx context.Context, url string, headers map[string]string, outputPath string, onProgress ProgressFunc) error {
	if alreadyDownloaded(outputPath, onProgress) {
		return nil
	}
	if err := requireTool(f.tool, "N_m3u8DL-RE"); err != nil {
		return err
	}
	if err := ensureParentDir(outputPath); err != nil {
		return err
	}

	dir := dirOf(outputPath)
	base := SanitizeFilename(baseOf(outputPath))

	args := []string{
		url,
		"--save-dir", dir,
		"--save-name", base,
		"--thread-count", strconv.Itoa(f.cfg.ThreadCount),
		"--download-retry-count", strconv.Itoa(f.cfg.RetryCount),
	}
	if f.cfg.AutoSelect {
		args = append(args, "--auto-select")
	}
	if f.cfg.TempDir != "" {
		args = append(args, "--tmp-dir", f.cfg.TempDir)
	}
	if f.cfg.MaxSpeed != "" {
		args = append(args, "--max-speed", f.cfg.MaxSpeed)
	}
	for k, v := range headers {
		args = append(args, "--header", fmt.Sprintf("%s: %s", k, v))
	}

	cmd := exec.CommandContext(ctx, f.tool.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start N_m3u8DL-RE: %w", err)
	}

	parser := &nm3u8ProgressParser{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCarriageReturns)
	for scanner.Scan() {
		line := scanner.Text()
		if p, ok := parser.parseLine(line); ok && onProgress != nil {
			onProgress(p)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("N_m3u8DL-RE: %w", err)
	}

	final := outputPath + ".mp4"
	if !fileIsReady(final) {
		return fmt.Errorf("N_m3u8DL-RE completed but output file %s is missing or empty", final)
	}
	return nil
}

// scanLinesOrCarriageReturns splits on '\n' or bare '\r', since progress
// bars like N_m3u8DL-RE's typically redraw a line with '\r' rather than
// emitting a newline per update.
func scanLinesOrCarriageReturns(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// nm3u8ProgressParser reproduces the original source's two overlapping
// match strategies rather than resolving their ambiguity, per spec.md §9's
// Open Question: "preserve the behavior but flag for re-evaluation."
// Pattern 1 matches the full progress-bar form with a segment count;
// pattern 2 matches a bare percentage, which also matches every line
// pattern 1 matches; when both match, pattern 2's fraction (the first
// percentage on the line) is the one reported. One Progress is returned
// per line.
type nm3u8ProgressParser struct {
	lastFraction float64
}

var (
	segmentCountRe = regexp.MustCompile(`\[[█░]+\]\s+(\d+\.\d+)%\s+\((\d+)/(\d+)\)`)
	percentOnlyRe  = regexp.MustCompile(`(\d+\.\d+)%`)
	speedRe        = regexp.MustCompile(`([\d.]+)\s*([KMG]?B)/s`)
	sizeRe         = regexp.MustCompile(`([\d.]+)\s*([KMG]?B)(?:/s)?`)
)

func (p *nm3u8ProgressParser) parseLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Progress{}, false
	}

	matched := false
	prog := Progress{}

	// Pattern 1: full progress bar with segment count.
	if m := segmentCountRe.FindStringSubmatch(line); m != nil {
		pct, _ := strconv.ParseFloat(m[1], 64)
		prog.Fraction = pct / 100
		matched = true
	}

	// Pattern 2: percentage only. Kept as a second, independent match on
	// the same line (not an else-branch) so it can override pattern 1's
	// fraction when both match, exactly as the source behaves.
	if m := percentOnlyRe.FindStringSubmatch(line); m != nil {
		pct, _ := strconv.ParseFloat(m[1], 64)
		prog.Fraction = pct / 100
		matched = true
	}

	if m := speedRe.FindStringSubmatch(line); m != nil {
		prog.Speed = m[0]
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		prog.DownloadedSize = m[0]
	}

	if !matched {
		return Progress{}, false
	}
	p.lastFraction = prog.Fraction
	return prog, true
}

func humanizeBytes(n uint64) string { return humanize.Bytes(n) }

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[:i]
	}
	return "."
}

func baseOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
