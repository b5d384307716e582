package hls

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// MuxConfig configures the ffmpeg-mux fallback backend.
type MuxConfig struct {
	BinaryPath string
}

// MuxFetcher shells out to ffmpeg with "-c copy -movflags +faststart
// -progress pipe:1", grounded on the teacher's ffmpeg invocation shape in
// internal/downloader/native_downloader.go, generalized to read ffmpeg's
// machine-parseable key=value progress stream instead of scraping stderr.
// This is the fallback backend used when N_m3u8DL-RE is not on PATH.
type MuxFetcher struct {
	tool *ToolInfo
}

func NewMuxFetcher(cfg MuxConfig) *MuxFetcher {
	return &MuxFetcher{tool: DetectTool("ffmpeg", cfg.BinaryPath)}
}

func (f *MuxFetcher) Available() bool { return f.tool.Available }

func (f *MuxFetcher) Fetch(ctx context.Context, url string, headers map[string]string, outputPath string, onProgress ProgressFunc) error {
	if alreadyDownloaded(outputPath, onProgress) {
		return nil
	}
	if err := requireTool(f.tool, "ffmpeg"); err != nil {
		return err
	}
	if err := ensureParentDir(outputPath); err != nil {
		return err
	}

	final := outputPath + ".mp4"

	args := []string{"-y"}
	if headerStr := headersToFFmpegArg(headers); headerStr != "" {
		args = append(args, "-headers", headerStr)
	}
	args = append(args,
		"-i", url,
		"-c", "copy",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		final,
	)

	cmd := exec.CommandContext(ctx, f.tool.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	// ffmpeg writes its own human logs to stderr; only pipe:1 (stdout)
	// carries the key=value progress stream we parse.
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var durationHint time.Duration
	scanner := bufio.NewScanner(stdout)
	kv := map[string]string{}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[k] = strings.TrimSpace(v)

		if k == "progress" {
			if onProgress != nil {
				onProgress(progressFromFFmpegKV(kv, durationHint))
			}
			kv = map[string]string{}
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}

	if !fileIsReady(final) {
		return fmt.Errorf("ffmpeg completed but output file %s is missing or empty", final)
	}
	return nil
}

// progressFromFFmpegKV turns one progress block's accumulated key=value
// pairs (out_time_ms/out_time, total_size, speed) into a Progress. Fraction
// is only meaningful when durationHint is known; otherwise it is left at 0
// and callers should treat DownloadedSize/Speed as the authoritative
// fields, same as the teacher's progress callbacks which don't always
// carry a known total.
func progressFromFFmpegKV(kv map[string]string, durationHint time.Duration) Progress {
	p := Progress{}

	if totalSize, err := strconv.ParseUint(kv["total_size"], 10, 64); err == nil {
		p.DownloadedSize = humanizeBytes(totalSize)
	}
	if speed := kv["speed"]; speed != "" {
		p.Speed = speed
	}
	if durationHint > 0 {
		if outTimeMS, err := strconv.ParseInt(kv["out_time_ms"], 10, 64); err == nil {
			elapsed := time.Duration(outTimeMS) * time.Microsecond
			p.Fraction = float64(elapsed) / float64(durationHint)
			if p.Fraction > 1 {
				p.Fraction = 1
			}
		}
	}
	return p
}

func headersToFFmpegArg(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	return b.String()
}
