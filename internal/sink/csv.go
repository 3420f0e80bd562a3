package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// ListSeparator joins list fields inside one CSV cell.
const ListSeparator = "|"

// Columns is the CSV header, in record order.
var Columns = []string{
	"global_id", "tmdb_id", "media_type", "title", "original_title", "year",
	"release_date", "runtime", "poster_url", "backdrop_url", "homepage",
	"imdb_rating", "imdb_votes", "imdb_metascore", "tmdb_vote_average",
	"tmdb_vote_count", "tmdb_popularity", "genres", "overview", "tagline",
	"budget", "revenue", "adult", "original_language", "status",
	"origin_country", "production_companies", "production_countries",
	"spoken_languages", "cast", "crew", "keywords", "trailer_url",
	"detail_url", "run_id", "scraped_at",
}

// CSV appends rows to a file and writes the header only when the file
// starts empty.
type CSV struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSV opens path for appending.
func NewCSV(path string) (*CSV, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return &CSV{path: path, file: file, w: w}, nil
}

// Write appends one row.
func (s *CSV) Write(_ context.Context, record crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if err := s.w.Write(Row(record)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSV) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.file = nil
	return errors.Join(flushErr, closeErr)
}

// Row renders record in Columns order. Absent values are empty cells.
func Row(r crawler.Record) []string {
	return []string{
		r.GlobalID,
		strconv.FormatInt(r.TMDBID, 10),
		r.MediaType,
		r.Title,
		r.OriginalTitle,
		r.Year,
		r.ReleaseDate,
		intCell(r.Runtime),
		strCell(r.PosterURL),
		strCell(r.BackdropURL),
		r.Homepage,
		floatCell(r.IMDbRating),
		int64Cell(r.IMDbVotes),
		floatCell(r.IMDbMetascore),
		floatCell(r.TMDBVoteAverage),
		int64Cell(r.TMDBVoteCount),
		floatCell(r.TMDBPopularity),
		strings.Join(r.Genres, ListSeparator),
		r.Overview,
		r.Tagline,
		int64Cell(r.Budget),
		int64Cell(r.Revenue),
		strconv.FormatBool(r.Adult),
		r.OriginalLanguage,
		r.Status,
		strings.Join(r.OriginCountry, ListSeparator),
		strings.Join(r.ProductionCompanies, ListSeparator),
		strings.Join(r.ProductionCountries, ListSeparator),
		strings.Join(r.SpokenLanguages, ListSeparator),
		strings.Join(r.Cast, ListSeparator),
		strings.Join(r.Crew, ListSeparator),
		strings.Join(r.Keywords, ListSeparator),
		strCell(r.TrailerURL),
		r.DetailURL,
		r.RunID,
		r.ScrapedAt.UTC().Format(time.RFC3339),
	}
}

func strCell(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func int64Cell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
