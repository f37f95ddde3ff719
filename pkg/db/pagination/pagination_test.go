package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{SortKey: 120, ID: 9})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, Cursor{SortKey: 120, ID: 9}, *cursor)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []int64{1, 2, 3}
	page, info, err := BuildCursorPageInfo(rows, 2, func(v int64) Cursor { return Cursor{SortKey: v, ID: v} })
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor.ID)

	page, info, err = BuildCursorPageInfo(rows, 5, func(v int64) Cursor { return Cursor{ID: v} })
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
}
