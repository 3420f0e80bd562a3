package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestNormalizer() *Normalizer {
	return New("", fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, "run-1")
}

func TestNormalizeTitlePrecedence(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	raw := crawler.RawListingItem{Title: "Bar", GlobalID: "tt1", ReleaseYear: "2003"}

	rec := n.Normalize(raw, crawler.Metadata{ID: 1, Title: "Foo"})
	require.Equal(t, "Foo", rec.Title)

	rec = n.Normalize(raw, crawler.Metadata{ID: 1})
	require.Equal(t, "Bar", rec.Title)

	rec = n.Normalize(raw, crawler.Metadata{ID: 1, Name: "Series", MediaType: crawler.MediaTV})
	require.Equal(t, "Series", rec.Title)
}

func TestNormalizeYearComesFromListing(t *testing.T) {
	t.Parallel()

	rec := newTestNormalizer().Normalize(
		crawler.RawListingItem{Title: "T", GlobalID: "tt1", ReleaseYear: "2003"},
		crawler.Metadata{ID: 1, ReleaseDate: "2004-06-01"},
	)
	require.Equal(t, "2003", rec.Year)
	require.Equal(t, "2004-06-01", rec.ReleaseDate)
}

func TestNormalizeAssetURLsOnlyWhenPathPresent(t *testing.T) {
	t.Parallel()

	rec := newTestNormalizer().Normalize(
		crawler.RawListingItem{Title: "T", GlobalID: "tt1"},
		crawler.Metadata{ID: 1, PosterPath: "/abc.jpg"},
	)
	require.NotNil(t, rec.PosterURL)
	require.Equal(t, DefaultImageBase+"/abc.jpg", *rec.PosterURL)
	require.Nil(t, rec.BackdropURL)
}

func TestNormalizeListsDefaultToEmpty(t *testing.T) {
	t.Parallel()

	rec := newTestNormalizer().Normalize(crawler.RawListingItem{Title: "T", GlobalID: "tt1"}, crawler.Metadata{ID: 1})

	for name, list := range map[string][]string{
		"genres":               rec.Genres,
		"origin_country":       rec.OriginCountry,
		"production_companies": rec.ProductionCompanies,
		"production_countries": rec.ProductionCountries,
		"spoken_languages":     rec.SpokenLanguages,
		"cast":                 rec.Cast,
		"crew":                 rec.Crew,
		"keywords":             rec.Keywords,
	} {
		require.NotNil(t, list, name)
		require.Empty(t, list, name)
	}

	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"cast":[]`)
	require.Contains(t, string(payload), `"poster_url":null`)
	require.Contains(t, string(payload), `"tmdb_vote_average":null`)
}

func TestNormalizeTruncatesCreditsInOrder(t *testing.T) {
	t.Parallel()

	var cast, crew []crawler.Person
	for i := 0; i < 25; i++ {
		cast = append(cast, crawler.Person{Name: fmt.Sprintf("actor-%02d", i)})
		crew = append(crew, crawler.Person{Name: fmt.Sprintf("crew-%02d", i)})
	}
	rec := newTestNormalizer().Normalize(
		crawler.RawListingItem{Title: "T", GlobalID: "tt1"},
		crawler.Metadata{ID: 1, Credits: crawler.Credits{Cast: cast, Crew: crew[:4]}},
	)
	require.Len(t, rec.Cast, 10)
	require.Equal(t, "actor-00", rec.Cast[0])
	require.Equal(t, "actor-09", rec.Cast[9])
	require.Len(t, rec.Crew, 4)
}

func TestNormalizeMapsCollectionsAndStamps(t *testing.T) {
	t.Parallel()

	avg, count, pop := 7.9, crawler.Count(1200), 33.3
	rating, votes := 8.1, int64(2300)
	rec := newTestNormalizer().Normalize(
		crawler.RawListingItem{Title: "T", GlobalID: "tt7", DetailURL: "https://www.imdb.com/title/tt7/", Rating: &rating, Votes: &votes},
		crawler.Metadata{
			ID:                  7,
			MediaType:           crawler.MediaTV,
			OriginalName:        "Orig",
			FirstAirDate:        "2003-01-02",
			EpisodeRunTime:      []int{45, 50},
			VoteAverage:         &avg,
			VoteCount:           &count,
			Popularity:          &pop,
			Genres:              []crawler.NamedEntity{{Name: "Drama"}},
			ProductionCountries: []crawler.NamedEntity{{Name: "Japan"}},
			SpokenLanguages:     []crawler.Language{{EnglishName: "Japanese", Name: "日本語"}, {Name: "Esperanto"}},
			Keywords:            crawler.KeywordsBundle{Results: []crawler.NamedEntity{{Name: "anime"}}},
			TrailerURL:          "https://www.youtube.com/watch?v=x",
		},
	)
	assert.Equal(t, "tt7", rec.GlobalID)
	assert.Equal(t, int64(7), rec.TMDBID)
	assert.Equal(t, "Orig", rec.OriginalTitle)
	assert.Equal(t, "2003-01-02", rec.ReleaseDate)
	require.NotNil(t, rec.Runtime)
	assert.Equal(t, 45, *rec.Runtime)
	assert.Equal(t, []string{"Drama"}, rec.Genres)
	assert.Equal(t, []string{"Japan"}, rec.ProductionCountries)
	assert.Equal(t, []string{"Japanese", "Esperanto"}, rec.SpokenLanguages)
	assert.Equal(t, []string{"anime"}, rec.Keywords)
	assert.Equal(t, &avg, rec.TMDBVoteAverage)
	require.NotNil(t, rec.TMDBVoteCount)
	assert.Equal(t, int64(1200), *rec.TMDBVoteCount)
	assert.Nil(t, rec.Budget)
	assert.Equal(t, &votes, rec.IMDbVotes)
	require.NotNil(t, rec.TrailerURL)
	assert.Equal(t, "https://www.youtube.com/watch?v=x", *rec.TrailerURL)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), rec.ScrapedAt)
}
