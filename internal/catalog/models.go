package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Kind is the media kind a Title tracks. It determines the storage table
// and which Provider Adapter resolves the Title's inventory.
type Kind string

const (
	KindAnime  Kind = "anime"
	KindSeries Kind = "series"
	KindFilm   Kind = "film"
)

// SeasonProgress is the value half of a Title's progress_map: how many
// units a season has and which episode numbers are already downloaded.
type SeasonProgress struct {
	Total      int   `json:"total"`
	Downloaded []int `json:"downloaded"`
}

// ProgressMap maps season number to SeasonProgress. It is stored as a JSON
// column (seasons_data, per spec.md §6) and is empty/absent for films and
// for flat-episodic titles (no season dimension).
type ProgressMap map[int]SeasonProgress

// DownloadedCount implements invariant I2: downloaded_units = sum of
// per-season downloaded-set sizes.
func (m ProgressMap) DownloadedCount() int {
	n := 0
	for _, sp := range m {
		n += len(sp.Downloaded)
	}
	return n
}

// Has reports whether episode `ep` of `season` is already recorded as
// downloaded.
func (m ProgressMap) Has(season, ep int) bool {
	sp, ok := m[season]
	if !ok {
		return false
	}
	for _, d := range sp.Downloaded {
		if d == ep {
			return true
		}
	}
	return false
}

// WithDownloaded returns a copy of m with (season, ep) added to the
// downloaded set, creating the season entry if needed. ProgressMap values
// are treated as immutable so callers cannot accidentally alias a row
// still cached elsewhere.
func (m ProgressMap) WithDownloaded(season, ep, total int) ProgressMap {
	out := make(ProgressMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	sp := out[season]
	if sp.Total < total {
		sp.Total = total
	}
	if !sp.contains(ep) {
		sp.Downloaded = append(append([]int{}, sp.Downloaded...), ep)
	}
	out[season] = sp
	return out
}

func (sp SeasonProgress) contains(ep int) bool {
	for _, d := range sp.Downloaded {
		if d == ep {
			return true
		}
	}
	return false
}

// Scan implements sql.Scanner so GORM can decode the seasons_data JSON
// column directly into a ProgressMap.
func (m *ProgressMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("catalog: ProgressMap.Scan: unsupported type")
	}
	if len(bytes) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Value implements driver.Valuer so GORM can encode a ProgressMap as JSON.
func (m ProgressMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Title is the row shape shared by the three per-kind tables. The Kind
// field is not stored on the row itself (each table is implicitly one
// kind) but is attached by the Store when it returns a Title to callers.
type Title struct {
	Kind            Kind        `gorm:"-" json:"kind"`
	ID              uint        `gorm:"primaryKey" json:"id"`
	Name            string      `gorm:"not null;uniqueIndex" json:"name"`
	Provider        string      `gorm:"not null" json:"provider"`
	ProviderRef     string      `gorm:"column:link;not null" json:"provider_ref"`
	// Slug, MediaID and Language mirror spec.md §6's kind-specific columns
	// (slug, media_id, provider_language). They are redundant with
	// ProviderRef — which remains the one opaque field the core reads
	// back — and exist only so the structured adapter's (id, slug,
	// language) triple is queryable directly in the persisted table
	// without the core ever parsing ProviderRef's encoding.
	Slug            string      `gorm:"column:slug" json:"slug,omitempty"`
	MediaID         string      `gorm:"column:media_id" json:"media_id,omitempty"`
	Language        string      `gorm:"column:provider_language" json:"language,omitempty"`
	Year            string      `gorm:"column:year" json:"year,omitempty"`
	TotalUnits      int         `gorm:"column:numero_episodi;default:0" json:"total_units"`
	DownloadedUnits int         `gorm:"column:episodi_scaricati;default:0" json:"downloaded_units"`
	ProgressMap     ProgressMap `gorm:"column:seasons_data;type:text" json:"progress_map,omitempty"`
	Scaricato       bool        `gorm:"column:scaricato;default:false" json:"-"` // films: downloaded flag
	LastRefresh     time.Time   `gorm:"column:last_update" json:"last_refresh"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
}

// AnimeTitle backs the "anime" table. The simple/flat adapter (allanime)
// never populates ProgressMap; downloaded_units is the sole counter.
type AnimeTitle struct {
	Title
}

func (AnimeTitle) TableName() string { return "anime" }

// TVTitle backs the "tv" table and is the only kind that uses ProgressMap
// (season-structured inventory from the structured adapter).
type TVTitle struct {
	Title
}

func (TVTitle) TableName() string { return "tv" }

// MovieTitle backs the "movies" table. TotalUnits is always 1.
type MovieTitle struct {
	Title
}

func (MovieTitle) TableName() string { return "movies" }
