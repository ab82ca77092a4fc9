package verse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  ID
	}{
		{"matthew_1_1", ID{Book: "matthew", Chapter: 1, Verse: 1}},
		{"1_corinthians_13_4", ID{Book: "1_corinthians", Chapter: 13, Verse: 4}},
		{"song_of_solomon_2_10", ID{Book: "song_of_solomon", Chapter: 2, Verse: 10}},
		{"psalm_119_105", ID{Book: "psalm", Chapter: 119, Verse: 105}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := Parse(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.token, got.String(), "round trip must be lossless")
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"matthew",
		"matthew_1",
		"_1_1",
		"matthew_0_1",
		"matthew_1_0",
		"matthew_01_1",
		"matthew_1_-1",
		"matthew_a_1",
		"Matthew_1_1",
		"matthew__x_1_1",
		"matthew 1_1_1",
		"matthew_1_1_",
	} {
		t.Run(token, func(t *testing.T) {
			_, err := Parse(token)
			assert.ErrorIs(t, err, ErrInvalidVerseID)
			assert.False(t, Valid(token))
		})
	}
}

func TestReference(t *testing.T) {
	assert.Equal(t, "1 Corinthians 13:4", Reference("1_corinthians_13_4"))
	assert.Equal(t, "Matthew 1:1", Reference("matthew_1_1"))
	assert.Equal(t, "not-a-verse", Reference("not-a-verse"))
}

func TestLess(t *testing.T) {
	assert.True(t, Less(MustParse("john_3_16"), MustParse("john_3_17")))
	assert.True(t, Less(MustParse("john_2_30"), MustParse("john_3_1")))
	assert.False(t, Less(MustParse("luke_1_1"), MustParse("john_1_1")))
}
