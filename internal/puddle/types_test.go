package puddle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexInt(t *testing.T) {
	var v struct {
		A, B, C, D FlexInt
	}
	require.NoError(t, json.Unmarshal([]byte(`{"A": 12, "B": "34", "C": null, "D": 5.9}`), &v))
	assert.Equal(t, FlexInt{Value: 12, Valid: true}, v.A)
	assert.Equal(t, FlexInt{Value: 34, Valid: true}, v.B)
	assert.False(t, v.C.Valid)
	assert.Equal(t, int64(5), v.D.Value)

	var bad FlexInt
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &bad))
}

func TestMatchIDRequiresBothParts(t *testing.T) {
	assert.Equal(t, "", Match{Timestamp: "2024-01-01 00:00:00"}.ID())
	assert.Equal(t, "", Match{OpponentID: "1"}.ID())
	assert.Equal(t, "2024-01-01 00:00:00_1", Match{Timestamp: " 2024-01-01 00:00:00 ", OpponentID: "1"}.ID())
}

func TestMatchTime(t *testing.T) {
	ts, ok := Match{Timestamp: "2024-03-02 01:02:03"}.Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 2, 3, 0, time.UTC), ts)

	_, ok = Match{Timestamp: "yesterday"}.Time()
	assert.False(t, ok)
}

func TestPlayerCharShortsDedupes(t *testing.T) {
	p := &Player{Ratings: []Rating{{CharShort: "so"}, {CharShort: "KY"}, {CharShort: "SO"}, {CharShort: ""}}}
	assert.Equal(t, []string{"SO", "KY"}, p.CharShorts())
	assert.Nil(t, (*Player)(nil).CharShorts())
}

func TestCharacters(t *testing.T) {
	c, ok := NormalizeCharacter(" ky ")
	assert.True(t, ok)
	assert.Equal(t, "KY", c)
	_, ok = NormalizeCharacter("ZZ")
	assert.False(t, ok)
	assert.Equal(t, "Sol Badguy", CharacterName("so"))
	assert.Equal(t, "ZZ", CharacterName("zz"))
	assert.Len(t, CharacterCodes(), 32)
}
