// Package normalize merges a listing item and its enrichment metadata into
// the output record.
package normalize

import (
	"strings"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// DefaultImageBase is the original-size image CDN prefix.
const DefaultImageBase = "https://image.tmdb.org/t/p/original"

const creditLimit = 10

// Normalizer builds records. It is safe for concurrent use.
type Normalizer struct {
	imageBase string
	clock     crawler.Clock
	runID     string
}

// New returns a Normalizer stamping records with runID and clock time.
func New(imageBase string, clock crawler.Clock, runID string) *Normalizer {
	if imageBase == "" {
		imageBase = DefaultImageBase
	}
	return &Normalizer{
		imageBase: strings.TrimRight(imageBase, "/"),
		clock:     clock,
		runID:     runID,
	}
}

// Normalize merges raw and md. The API title wins when present; the year
// always comes from the listing.
func (n *Normalizer) Normalize(raw crawler.RawListingItem, md crawler.Metadata) crawler.Record {
	title := md.DisplayTitle()
	if title == "" {
		title = raw.Title
	}
	originalTitle := md.OriginalTitle
	if originalTitle == "" {
		originalTitle = md.OriginalName
	}
	releaseDate := md.ReleaseDate
	if releaseDate == "" {
		releaseDate = md.FirstAirDate
	}
	runtime := md.Runtime
	if runtime == nil && len(md.EpisodeRunTime) > 0 {
		first := md.EpisodeRunTime[0]
		runtime = &first
	}
	keywords := md.Keywords.Keywords
	if len(keywords) == 0 {
		keywords = md.Keywords.Results
	}

	rec := crawler.Record{
		GlobalID:            raw.GlobalID,
		TMDBID:              md.ID,
		MediaType:           md.MediaType,
		Title:               title,
		OriginalTitle:       originalTitle,
		Year:                raw.ReleaseYear,
		ReleaseDate:         releaseDate,
		Runtime:             runtime,
		PosterURL:           n.assetURL(md.PosterPath),
		BackdropURL:         n.assetURL(md.BackdropPath),
		Homepage:            md.Homepage,
		IMDbRating:          raw.Rating,
		IMDbVotes:           raw.Votes,
		IMDbMetascore:       raw.Metascore,
		TMDBVoteAverage:     md.VoteAverage,
		TMDBVoteCount:       md.VoteCount.Int64(),
		TMDBPopularity:      md.Popularity,
		Genres:              entityNames(md.Genres),
		Overview:            md.Overview,
		Tagline:             md.Tagline,
		Budget:              md.Budget.Int64(),
		Revenue:             md.Revenue.Int64(),
		Adult:               md.Adult,
		OriginalLanguage:    md.OriginalLanguage,
		Status:              md.Status,
		OriginCountry:       nonNil(md.OriginCountry),
		ProductionCompanies: entityNames(md.ProductionCompanies),
		ProductionCountries: entityNames(md.ProductionCountries),
		SpokenLanguages:     languageNames(md.SpokenLanguages),
		Cast:                personNames(md.Credits.Cast, creditLimit),
		Crew:                personNames(md.Credits.Crew, creditLimit),
		Keywords:            entityNames(keywords),
		DetailURL:           raw.DetailURL,
		RunID:               n.runID,
	}
	if md.TrailerURL != "" {
		trailer := md.TrailerURL
		rec.TrailerURL = &trailer
	}
	if n.clock != nil {
		rec.ScrapedAt = n.clock.Now().UTC()
	}
	return rec
}

func (n *Normalizer) assetURL(path string) *string {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := n.imageBase + path
	return &u
}

func entityNames(in []crawler.NamedEntity) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		out = append(out, e.Name)
	}
	return out
}

func languageNames(in []crawler.Language) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		name := l.EnglishName
		if name == "" {
			name = l.Name
		}
		out = append(out, name)
	}
	return out
}

func personNames(in []crawler.Person, limit int) []string {
	if len(in) > limit {
		in = in[:limit]
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, p.Name)
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
