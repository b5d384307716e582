package hls

import (
	"fmt"

	"github.com/justchokingaround/acquisitiond/internal/catalogerr"
)

// Backend selects which external tool materializes the file.
type Backend string

const (
	BackendSegmented Backend = "segmented"
	BackendMux       Backend = "mux"
	BackendAuto      Backend = "auto"
)

// New builds the configured Fetcher. BackendAuto prefers the
// segmented-parallel backend, falling back to ffmpeg mux when
// N_m3u8DL-RE is not on PATH, mirroring the teacher's tool-detection
// fallback in manager.go ("log the error but don't fail - we can use
// native implementation").
func New(backend Backend, nm3u8Cfg Nm3u8Config, muxCfg MuxConfig) (Fetcher, error) {
	segmented := NewSegmentedFetcher(nm3u8Cfg)
	mux := NewMuxFetcher(muxCfg)

	switch backend {
	case BackendSegmented:
		if !segmented.Available() {
			return nil, catalogerr.New(catalogerr.ConfigError, "hls backend \"segmented\" configured but N_m3u8DL-RE not found")
		}
		return segmented, nil
	case BackendMux:
		if !mux.Available() {
			return nil, catalogerr.New(catalogerr.ConfigError, "hls backend \"mux\" configured but ffmpeg not found")
		}
		return mux, nil
	case BackendAuto, "":
		if segmented.Available() {
			return segmented, nil
		}
		if mux.Available() {
			return mux, nil
		}
		return nil, catalogerr.New(catalogerr.ConfigError, "no HLS backend available: neither N_m3u8DL-RE nor ffmpeg found in PATH")
	default:
		return nil, catalogerr.New(catalogerr.ConfigError, fmt.Sprintf("unknown hls backend %q", backend))
	}
}
