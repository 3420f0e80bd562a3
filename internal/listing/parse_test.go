package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `<html><body><ul>
<li class="ipc-metadata-list-summary-item">
  <h3 class="ipc-title__text">1. The Matrix</h3>
  <div><span class="dli-title-metadata-item">1999</span><span class="dli-title-metadata-item">2h 16m</span></div>
  <a class="ipc-lockup-overlay" href="/title/tt0133093/?ref_=sr_i_1"></a>
  <span class="ipc-rating-star--rating">8.7</span>
  <span class="ipc-rating-star--voteCount"> (2.1M)</span>
  <span class="metacritic-score-box">73</span>
</li>
<li class="ipc-metadata-list-summary-item">
  <h3 class="ipc-title__text">2. Unrated Short</h3>
  <div><span class="dli-title-metadata-item">1999</span></div>
  <a class="ipc-lockup-overlay" href="https://www.imdb.com/title/tt9999999/"></a>
  <span class="ipc-rating-star--rating">n/a</span>
</li>
<li class="ipc-metadata-list-summary-item">
  <h3 class="ipc-title__text">3. No Link</h3>
</li>
</ul></body></html>`

func TestParseExtractsSelectorTable(t *testing.T) {
	t.Parallel()

	items, err := Parse(fixture, "https://www.imdb.com/search/title/?count=250")
	require.NoError(t, err)
	require.Len(t, items, 3)

	m := items[0]
	assert.Equal(t, "The Matrix", m.Title)
	assert.Equal(t, "1999", m.ReleaseYear)
	assert.Equal(t, "https://www.imdb.com/title/tt0133093/?ref_=sr_i_1", m.DetailURL)
	assert.Equal(t, "tt0133093", m.GlobalID)
	require.NotNil(t, m.Rating)
	assert.InDelta(t, 8.7, *m.Rating, 1e-9)
	require.NotNil(t, m.Votes)
	assert.Equal(t, int64(2100000), *m.Votes)
	require.NotNil(t, m.Metascore)
	assert.InDelta(t, 73.0, *m.Metascore, 1e-9)
	assert.True(t, m.Valid())

	short := items[1]
	assert.Equal(t, "tt9999999", short.GlobalID)
	assert.Nil(t, short.Rating)
	assert.Nil(t, short.Votes)
	assert.Nil(t, short.Metascore)

	noLink := items[2]
	assert.Empty(t, noLink.DetailURL)
	assert.Empty(t, noLink.GlobalID)
	assert.False(t, noLink.Valid())
}

func TestParseEmptyPage(t *testing.T) {
	t.Parallel()

	items, err := Parse("<html><body></body></html>", "")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestParseVotes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want *int64
	}{
		{"1,234", ptr(1234)},
		{"(2.3K)", ptr(2300)},
		{"1.2M", ptr(1200000)},
		{"(15k)", ptr(15000)},
		{" 987 ", ptr(987)},
		{"", nil},
		{"n/a", nil},
		{"K", nil},
		{"-5", nil},
		{"1e300k", nil},
		{"9.3e18", nil},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := ParseVotes(tc.in)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}

func TestParseFloat(t *testing.T) {
	t.Parallel()

	require.Nil(t, ParseFloat(""))
	require.Nil(t, ParseFloat("abc"))
	require.Nil(t, ParseFloat("NaN"))
	got := ParseFloat(" 7.5 ")
	require.NotNil(t, got)
	require.InDelta(t, 7.5, *got, 1e-9)
}

func TestGlobalIDFromURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "tt0133093", GlobalIDFromURL("https://www.imdb.com/title/tt0133093/"))
	require.Equal(t, "tt0133093", GlobalIDFromURL("https://www.imdb.com/title/tt0133093/?ref_=sr_t_1"))
	require.Empty(t, GlobalIDFromURL(""))
	require.Empty(t, GlobalIDFromURL("tt0133093"))
}

func ptr(n int64) *int64 { return &n }
