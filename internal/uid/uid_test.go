package uid

import (
	"testing"

	"animarr/internal/language"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		c    Components
		want string
	}{
		{
			name: "subbed",
			c:    Components{MediaType: TypeAnime, MediaID: "gintama", Source: "gogoanime", Language: language.English},
			want: "a-gintama-gogoanime-en",
		},
		{
			name: "dubbed",
			c:    Components{MediaType: TypeAnime, MediaID: "gintama", Source: "gogoanime", Language: language.English, Dubbed: true},
			want: "a-gintama-gogoanime-en_dub",
		},
		{
			name: "manga",
			c:    Components{MediaType: TypeManga, MediaID: "berserk", Source: "masteranime", Language: language.German},
			want: "m-berserk-masteranime-de",
		},
		{
			name: "escaped media id",
			c:    Components{MediaType: TypeAnime, MediaID: CreateMediaID("Re:Zero"), Source: "gogoanime", Language: language.English},
			want: "a-re_3a_zero-gogoanime-en",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.c.UID()
			assert.Equal(t, tt.want, u.String())

			parsed, err := Parse(u.String())
			require.NoError(t, err)
			assert.Equal(t, tt.c, parsed)
		})
	}
}

func TestParseLegacy(t *testing.T) {
	c, err := Parse("gogoanime-gintama-en_dub")
	require.NoError(t, err)

	assert.Equal(t, TypeAnime, c.MediaType)
	assert.Equal(t, "gogoanime", c.Source)
	assert.Equal(t, "gintama", c.MediaID)
	assert.Equal(t, language.English, c.Language)
	assert.True(t, c.Dubbed)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"gintama",
		"a-gintama",
		"x-gintama-gogoanime-en",
		"a-gintama-gogoanime-xx",
		"a--gogoanime-en",
		"a-gintama-gogoanime-en-extra",
	} {
		_, err := Parse(s)
		assert.Error(t, err, "uid %q", s)
	}
}

func TestNewWithoutSource(t *testing.T) {
	u := New(TypeAnime, "gintama", "", language.English, false)
	assert.Equal(t, "a-gintama-none-en", u.String())

	c, err := Parse(u.String())
	require.NoError(t, err)
	assert.Equal(t, "none", c.Source)
}

func TestCreateMediaID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Gintama", "gintama"},
		{"  Gintama  ", "gintama"},
		{"One Piece", "onepiece"},
		{"Re:Zero", "re_3a_zero"},
		{"K-On!", "k_2d_on_21_"},
		{"", ""},
		{"3-gatsu no Lion", "3_2d_gatsunolion"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CreateMediaID(tt.in), "title %q", tt.in)
	}
}

func TestCreateMediaIDNoCollisions(t *testing.T) {
	// escaping must keep distinct titles distinct
	a := CreateMediaID("a_b")
	b := CreateMediaID("a b")
	assert.NotEqual(t, a, b)

	// escaped ids never contain dashes, the uid separator
	assert.NotContains(t, CreateMediaID("a-b: c"), "-")
}
