package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// episodeFilenameRe matches "<anything>Episode <N>.mp4" case-insensitively,
// per spec.md §6's filename convention, used to recover episode numbers from
// a flat anime directory when seeding or repairing a catalog from what is
// already on disk. The catalog remains the authoritative source of truth;
// this scan is a recovery tool only, never consulted on the normal
// reconciliation path.
var episodeFilenameRe = regexp.MustCompile(`(?i).*Episode\s+(\d+)\.mp4$`)

// ScanAnimeDirectory lists the episode numbers present under root/name,
// matching spec.md §6's flat anime layout (<name>/<name> - Episode <N>.mp4).
// A missing directory returns an empty, non-error result; any other read
// error is returned.
func ScanAnimeDirectory(root, name string) ([]int, error) {
	dir := filepath.Join(root, name)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := episodeFilenameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// seasonDirRe matches a zero-padded two-digit season directory ("S01",
// "s12"), per spec.md §6.
var seasonDirRe = regexp.MustCompile(`(?i)^S(\d{2})$`)

// ScanSeriesDirectory lists, per season, the episode numbers present under
// root/name/S<NN>/, matching spec.md §6's series layout. The episode number
// comes from the file name's S<NN>E<NN> segment (seriesEpisodeRe); files
// without one are skipped.
func ScanSeriesDirectory(root, name string) (map[int][]int, error) {
	dir := filepath.Join(root, name)
	seasonDirs, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[int][]int)
	for _, sd := range seasonDirs {
		if !sd.IsDir() {
			continue
		}
		m := seasonDirRe.FindStringSubmatch(sd.Name())
		if m == nil {
			continue
		}
		season, _ := strconv.Atoi(m[1])

		files, err := os.ReadDir(filepath.Join(dir, sd.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(strings.ToLower(f.Name()), ".mp4") {
				continue
			}
			ep := episodeNumFromSeriesFilename(f.Name())
			if ep > 0 {
				out[season] = append(out[season], ep)
			}
		}
	}
	return out, nil
}

var seriesEpisodeRe = regexp.MustCompile(`(?i)S\d{2}E(\d{2})`)

func episodeNumFromSeriesFilename(name string) int {
	m := seriesEpisodeRe.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FilmExists reports whether the film's materialized file is present and
// non-empty, per invariant I3 ("completed" only after the file exists,
// is non-empty, and is closed on disk).
func FilmExists(root, name string) bool {
	path := filepath.Join(root, name, name+".mp4")
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}
