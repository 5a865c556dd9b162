package tagparse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"media_syncer/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Parsed
	}{
		{
			name: "no namespace",
			raw:  "blue sky",
			want: Parsed{Name: "blue sky", Category: domain.CategoryGeneral, Original: "blue sky"},
		},
		{
			name: "artist alias",
			raw:  "creator:Some Artist",
			want: Parsed{Namespace: "creator", Name: "Some Artist", Category: domain.CategoryArtist, Original: "creator:Some Artist"},
		},
		{
			name: "namespace case folded",
			raw:  "Drawn_By: Somebody ",
			want: Parsed{Namespace: "drawn_by", Name: "Somebody", Category: domain.CategoryArtist, Original: "Drawn_By: Somebody "},
		},
		{
			name: "character alias",
			raw:  "char:hero",
			want: Parsed{Namespace: "char", Name: "hero", Category: domain.CategoryCharacter, Original: "char:hero"},
		},
		{
			name: "copyright alias",
			raw:  "parody:some show",
			want: Parsed{Namespace: "parody", Name: "some show", Category: domain.CategoryCopyright, Original: "parody:some show"},
		},
		{
			name: "meta alias",
			raw:  "rating:safe",
			want: Parsed{Namespace: "rating", Name: "safe", Category: domain.CategoryMeta, Original: "rating:safe"},
		},
		{
			name: "split on first separator only",
			raw:  "series:re:zero",
			want: Parsed{Namespace: "series", Name: "re:zero", Category: domain.CategoryCopyright, Original: "series:re:zero"},
		},
		{
			name: "unknown namespace is general",
			raw:  "clothing:dress",
			want: Parsed{Namespace: "clothing", Name: "dress", Category: domain.CategoryGeneral, Original: "clothing:dress"},
		},
		{
			name: "empty namespace",
			raw:  ":smile",
			want: Parsed{Namespace: "", Name: "smile", Category: domain.CategoryGeneral, Original: ":smile"},
		},
		{
			name: "empty input",
			raw:  "",
			want: Parsed{Category: domain.CategoryGeneral},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, domain.TagKey{Name: "Some Artist", Category: domain.CategoryArtist}, Normalize("artist:Some Artist"))
	assert.Equal(t, domain.TagKey{Name: "clothing:dress", Category: domain.CategoryGeneral}, Normalize("clothing:dress"))
	assert.Equal(t, domain.TagKey{Name: "blue sky", Category: domain.CategoryGeneral}, Normalize(" blue sky "))
}

func TestNormalize_IdempotentOnStorageForm(t *testing.T) {
	inputs := []struct{ namespace, name string }{
		{"artist", "Some Artist"},
		{"creator", "x"},
		{"character", "hero:alt"},
		{"series", "a show"},
		{"medium", "photo"},
		{"clothing", "dress"},
		{"", "plain"},
	}

	for _, in := range inputs {
		raw := in.namespace + ":" + in.name
		first := Parse(raw)
		key := first.Key()

		var reparsed domain.TagKey
		if key.Category == domain.CategoryGeneral {
			reparsed = Normalize(key.Name)
		} else {
			reparsed = Normalize(first.Namespace + ":" + key.Name)
		}
		assert.Equal(t, key, reparsed, raw)
	}
}

func TestValues(t *testing.T) {
	tags := []string{"title:First", "page:2", "Title:Second", "title:", "blue sky"}

	assert.Equal(t, []string{"First", "Second"}, Values(tags, "title"))
	assert.Equal(t, []string{"2"}, Values(tags, "page"))
	assert.Empty(t, Values(tags, "artist"))
}
