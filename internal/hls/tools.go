package hls

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ToolInfo describes one external binary the segmented/mux backends shell
// out to, ported from the teacher's internal/downloader/tools.ToolInfo.
type ToolInfo struct {
	Binary    string
	Version   string
	Available bool
}

// DetectTool resolves the explicit configured path if one is provided,
// otherwise searches PATH for name, matching the teacher's tools.FindTool.
// The tool is reported unavailable when the lookup finds no executable.
func DetectTool(name, configuredPath string) *ToolInfo {
	lookup := configuredPath
	if lookup == "" {
		lookup = name
	}
	path, err := exec.LookPath(lookup)
	if err != nil {
		return &ToolInfo{Available: false}
	}

	info := &ToolInfo{Binary: path, Available: true}
	if out, err := exec.Command(path, "--version").Output(); err == nil {
		info.Version = parseVersion(string(out))
	}
	return info
}

var (
	dateVersionRe    = regexp.MustCompile(`(\d{4}\.\d{2}\.\d{2})`)
	labeledVersionRe = regexp.MustCompile(`version\s+([^\s,]+)`)
	genericVersionRe = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
)

// parseVersion extracts a version string from --version output, ported
// from the teacher's tools.parseVersion.
func parseVersion(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return ""
	}
	first := lines[0]

	if m := dateVersionRe.FindStringSubmatch(first); len(m) > 1 {
		return m[1]
	}
	if m := labeledVersionRe.FindStringSubmatch(first); len(m) > 1 {
		return m[1]
	}
	if m := genericVersionRe.FindStringSubmatch(first); len(m) > 1 {
		return m[1]
	}
	if len(first) > 0 && len(first) < 100 {
		return first
	}
	return ""
}

func requireTool(info *ToolInfo, name string) error {
	if !info.Available {
		return fmt.Errorf("%s not found in PATH and no binary_path configured", name)
	}
	return nil
}
