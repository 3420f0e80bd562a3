package crawler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// WorkUnit is one calendar month of the crawl.
type WorkUnit struct {
	Year  int
	Month time.Month
}

// String renders the unit as YYYY-MM.
func (u WorkUnit) String() string {
	return fmt.Sprintf("%04d-%02d", u.Year, int(u.Month))
}

// IsZero reports whether the unit was left unset.
func (u WorkUnit) IsZero() bool {
	return u.Year == 0 && u.Month == 0
}

// Bounds returns the first and last calendar day of the unit in UTC.
func (u WorkUnit) Bounds() (time.Time, time.Time) {
	first := time.Date(u.Year, u.Month, 1, 0, 0, 0, 0, time.UTC)
	// Day 0 of the following month normalizes to the last day of this one.
	last := time.Date(u.Year, u.Month+1, 0, 0, 0, 0, 0, time.UTC)
	return first, last
}

// Next returns the following calendar month.
func (u WorkUnit) Next() WorkUnit {
	if u.Month == time.December {
		return WorkUnit{Year: u.Year + 1, Month: time.January}
	}
	return WorkUnit{Year: u.Year, Month: u.Month + 1}
}

// After reports whether u is strictly later than other.
func (u WorkUnit) After(other WorkUnit) bool {
	if u.Year != other.Year {
		return u.Year > other.Year
	}
	return u.Month > other.Month
}

// UnitOf returns the unit containing t.
func UnitOf(t time.Time) WorkUnit {
	return WorkUnit{Year: t.Year(), Month: t.Month()}
}

// ParseWorkUnit accepts "YYYY-MM" or a bare "YYYY". A bare year resolves to
// January when asEnd is false and to December when asEnd is true.
func ParseWorkUnit(raw string, asEnd bool) (WorkUnit, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WorkUnit{}, nil
	}
	yearPart, monthPart, hasMonth := strings.Cut(raw, "-")
	year, err := strconv.Atoi(yearPart)
	if err != nil || year < 1 {
		return WorkUnit{}, fmt.Errorf("invalid year in %q", raw)
	}
	if !hasMonth {
		if asEnd {
			return WorkUnit{Year: year, Month: time.December}, nil
		}
		return WorkUnit{Year: year, Month: time.January}, nil
	}
	month, err := strconv.Atoi(monthPart)
	if err != nil || month < 1 || month > 12 {
		return WorkUnit{}, fmt.Errorf("invalid month in %q", raw)
	}
	return WorkUnit{Year: year, Month: time.Month(month)}, nil
}

// RawListingItem is one title as rendered on a listing page. Empty strings
// and nil pointers mean the selector found nothing usable.
type RawListingItem struct {
	Title       string
	ReleaseYear string
	DetailURL   string
	GlobalID    string
	Rating      *float64
	Votes       *int64
	Metascore   *float64
}

// Valid reports whether the item carries the fields required downstream.
func (i RawListingItem) Valid() bool {
	return i.Title != "" && i.GlobalID != ""
}

// Media kinds understood by the enrichment API.
const (
	MediaMovie = "movie"
	MediaTV    = "tv"
)

// Metadata is the decoded enrichment payload for one title. Movie and tv
// payloads share this shape; fields the kind does not use stay empty.
type Metadata struct {
	ID                  int64          `json:"id"`
	Title               string         `json:"title"`
	Name                string         `json:"name"`
	OriginalTitle       string         `json:"original_title"`
	OriginalName        string         `json:"original_name"`
	ReleaseDate         string         `json:"release_date"`
	FirstAirDate        string         `json:"first_air_date"`
	Runtime             *int           `json:"runtime"`
	EpisodeRunTime      []int          `json:"episode_run_time"`
	PosterPath          string         `json:"poster_path"`
	BackdropPath        string         `json:"backdrop_path"`
	Homepage            string         `json:"homepage"`
	VoteAverage         *float64       `json:"vote_average"`
	VoteCount           *Count         `json:"vote_count"`
	Popularity          *float64       `json:"popularity"`
	Genres              []NamedEntity  `json:"genres"`
	Overview            string         `json:"overview"`
	Tagline             string         `json:"tagline"`
	Budget              *Count         `json:"budget"`
	Revenue             *Count         `json:"revenue"`
	Adult               bool           `json:"adult"`
	OriginalLanguage    string         `json:"original_language"`
	Status              string         `json:"status"`
	OriginCountry       []string       `json:"origin_country"`
	ProductionCompanies []NamedEntity  `json:"production_companies"`
	ProductionCountries []NamedEntity  `json:"production_countries"`
	SpokenLanguages     []Language     `json:"spoken_languages"`
	Credits             Credits        `json:"credits"`
	Keywords            KeywordsBundle `json:"keywords"`

	MediaType  string `json:"-"`
	TrailerURL string `json:"-"`
}

// Count is an integer field that the API sometimes encodes as a float or
// a quoted number. Fractions are truncated.
type Count int64

// UnmarshalJSON accepts integers, floats and numeric strings.
func (c *Count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*c = Count(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return fmt.Errorf("decode count %q: %w", s, ErrMalformed)
	}
	*c = Count(f)
	return nil
}

// Int64 returns the value as a fresh pointer, nil when c is nil.
func (c *Count) Int64() *int64 {
	if c == nil {
		return nil
	}
	v := int64(*c)
	return &v
}

// DisplayTitle returns the kind-specific title field.
func (m Metadata) DisplayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return m.Name
}

// NamedEntity covers genres, companies, countries and keywords.
type NamedEntity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Language is a spoken language entry.
type Language struct {
	EnglishName string `json:"english_name"`
	Name        string `json:"name"`
}

// Credits holds cast and crew in API order.
type Credits struct {
	Cast []Person `json:"cast"`
	Crew []Person `json:"crew"`
}

// Person is a credited cast or crew member.
type Person struct {
	Name      string `json:"name"`
	Character string `json:"character"`
	Job       string `json:"job"`
}

// KeywordsBundle matches both movie ("keywords") and tv ("results") shapes.
type KeywordsBundle struct {
	Keywords []NamedEntity `json:"keywords"`
	Results  []NamedEntity `json:"results"`
}

// Video is one entry of the videos listing.
type Video struct {
	Key  string `json:"key"`
	Site string `json:"site"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Record is the normalized output row.
type Record struct {
	GlobalID            string    `json:"global_id"`
	TMDBID              int64     `json:"tmdb_id"`
	MediaType           string    `json:"media_type"`
	Title               string    `json:"title"`
	OriginalTitle       string    `json:"original_title"`
	Year                string    `json:"year"`
	ReleaseDate         string    `json:"release_date"`
	Runtime             *int      `json:"runtime"`
	PosterURL           *string   `json:"poster_url"`
	BackdropURL         *string   `json:"backdrop_url"`
	Homepage            string    `json:"homepage"`
	IMDbRating          *float64  `json:"imdb_rating"`
	IMDbVotes           *int64    `json:"imdb_votes"`
	IMDbMetascore       *float64  `json:"imdb_metascore"`
	TMDBVoteAverage     *float64  `json:"tmdb_vote_average"`
	TMDBVoteCount       *int64    `json:"tmdb_vote_count"`
	TMDBPopularity      *float64  `json:"tmdb_popularity"`
	Genres              []string  `json:"genres"`
	Overview            string    `json:"overview"`
	Tagline             string    `json:"tagline"`
	Budget              *int64    `json:"budget"`
	Revenue             *int64    `json:"revenue"`
	Adult               bool      `json:"adult"`
	OriginalLanguage    string    `json:"original_language"`
	Status              string    `json:"status"`
	OriginCountry       []string  `json:"origin_country"`
	ProductionCompanies []string  `json:"production_companies"`
	ProductionCountries []string  `json:"production_countries"`
	SpokenLanguages     []string  `json:"spoken_languages"`
	Cast                []string  `json:"cast"`
	Crew                []string  `json:"crew"`
	Keywords            []string  `json:"keywords"`
	TrailerURL          *string   `json:"trailer_url"`
	DetailURL           string    `json:"detail_url"`
	RunID               string    `json:"run_id"`
	ScrapedAt           time.Time `json:"scraped_at"`
}
