package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, 10, Pagination{PageSize: 10}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Limit())
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123_000_000, time.UTC)
	token := EncodeCursor("42", at)

	id, createdAt, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.True(t, at.Equal(createdAt))

	_, _, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestPage(t *testing.T) {
	a, b, c := 1, 2, 3
	rows := []*int{&a, &b, &c}

	kept, info := Page(rows, 2, func(v *int) string { return "last" })
	assert.Len(t, kept, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, "last", info.NextPageToken)

	kept, info = Page(rows, 5, func(v *int) string { return "x" })
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
