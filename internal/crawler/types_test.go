package crawler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkUnitBoundsUsesCalendar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		unit WorkUnit
		last int
	}{
		{WorkUnit{Year: 2003, Month: time.January}, 31},
		{WorkUnit{Year: 2003, Month: time.February}, 28},
		{WorkUnit{Year: 2004, Month: time.February}, 29},
		{WorkUnit{Year: 2000, Month: time.February}, 29},
		{WorkUnit{Year: 1900, Month: time.February}, 28},
		{WorkUnit{Year: 2003, Month: time.April}, 30},
		{WorkUnit{Year: 2003, Month: time.December}, 31},
	}
	for _, tc := range cases {
		t.Run(tc.unit.String(), func(t *testing.T) {
			first, last := tc.unit.Bounds()
			assert.Equal(t, 1, first.Day())
			assert.Equal(t, tc.unit.Month, first.Month())
			assert.Equal(t, tc.last, last.Day())
			assert.Equal(t, tc.unit.Month, last.Month())
		})
	}
}

func TestWorkUnitNextAndAfter(t *testing.T) {
	t.Parallel()

	dec := WorkUnit{Year: 2003, Month: time.December}
	require.Equal(t, WorkUnit{Year: 2004, Month: time.January}, dec.Next())
	require.True(t, dec.Next().After(dec))
	require.False(t, dec.After(dec))
	require.Equal(t, "2003-12", dec.String())
}

func TestParseWorkUnit(t *testing.T) {
	t.Parallel()

	u, err := ParseWorkUnit("2003-01", false)
	require.NoError(t, err)
	require.Equal(t, WorkUnit{Year: 2003, Month: time.January}, u)

	u, err = ParseWorkUnit("2003", true)
	require.NoError(t, err)
	require.Equal(t, WorkUnit{Year: 2003, Month: time.December}, u)

	u, err = ParseWorkUnit("", false)
	require.NoError(t, err)
	require.True(t, u.IsZero())

	_, err = ParseWorkUnit("2003-13", false)
	require.Error(t, err)
	_, err = ParseWorkUnit("abc", false)
	require.Error(t, err)
}

func TestRawListingItemValid(t *testing.T) {
	t.Parallel()

	require.True(t, RawListingItem{Title: "A", GlobalID: "tt1"}.Valid())
	require.False(t, RawListingItem{Title: "A"}.Valid())
	require.False(t, RawListingItem{GlobalID: "tt1"}.Valid())
}

func TestStatusErrorRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, (&StatusError{StatusCode: 429}).Retryable())
	require.True(t, (&StatusError{StatusCode: 503}).Retryable())
	require.False(t, (&StatusError{StatusCode: 404}).Retryable())
	require.False(t, (&StatusError{StatusCode: 401}).Retryable())
}

func TestCountDecodesLooseNumbers(t *testing.T) {
	t.Parallel()

	var payload struct {
		Votes   *Count `json:"vote_count"`
		Budget  *Count `json:"budget"`
		Revenue *Count `json:"revenue"`
		Missing *Count `json:"missing"`
	}
	err := json.Unmarshal([]byte(`{"vote_count": 1200.0, "budget": "63000000", "revenue": null}`), &payload)
	require.NoError(t, err)
	require.NotNil(t, payload.Votes.Int64())
	assert.Equal(t, int64(1200), *payload.Votes.Int64())
	assert.Equal(t, int64(63000000), *payload.Budget.Int64())
	assert.Nil(t, payload.Revenue.Int64())
	assert.Nil(t, payload.Missing.Int64())

	var c Count
	require.NoError(t, json.Unmarshal([]byte(`12.9`), &c))
	assert.Equal(t, Count(12), c)

	err = json.Unmarshal([]byte(`"lots"`), &c)
	require.True(t, errors.Is(err, ErrMalformed), "got %v", err)
	require.Error(t, json.Unmarshal([]byte(`1e300`), &c))
}
