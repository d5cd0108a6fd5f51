package store

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, DefaultPageSize},
		{-3, 10, 1, 10},
		{2, MaxPageSize + 1, 2, DefaultPageSize},
		{5, 50, 5, 50},
		{math.MaxInt, MaxPageSize, MaxPage, MaxPageSize},
	}

	for _, tt := range tests {
		page, size := NormalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
		assert.Positive(t, (page-1)*size+1, "offset must not overflow")
	}
}

func TestNewOffsetPage(t *testing.T) {
	page := newOffsetPage[int](nil, 21, 3, 10)

	assert.NotNil(t, page.Items)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, int64(21), page.Total)

	page = newOffsetPage([]int{1}, 20, 2, 10)
	assert.Equal(t, 2, page.TotalPages)
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	decoded, err := DecodeCursor(EncodeCursor(OrderCursor{CreatedAt: at, ID: 42}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.ID)
	assert.True(t, decoded.CreatedAt.Equal(at))
}

func TestDecodeCursor(t *testing.T) {
	first, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.After(time.Now()))

	_, err = DecodeCursor("not base64!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor(EncodeCursor(OrderCursor{ID: 0}))
	assert.ErrorIs(t, err, ErrInvalidCursor)
}
