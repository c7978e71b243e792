package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
		skip []string
	}{
		{
			name: "lowercases and strips punctuation",
			text: "Focus NOT visible on the Search-Button!",
			want: []string{"focus", "visible", "search", "button"},
		},
		{
			name: "drops short tokens",
			text: "tab key h1 h3 nav bar heading",
			want: []string{"heading"},
			skip: []string{"tab", "key", "h1", "h3", "nav", "bar"},
		},
		{
			name: "drops stop words",
			text: "this issue should have been fixed when the page loads",
			want: []string{"fixed", "loads"},
			skip: []string{"this", "issue", "should", "have", "been", "when", "page"},
		},
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "numbers survive",
			text: "error code 40432 returned",
			want: []string{"40432", "error", "code", "returned"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := Extract(tt.text)
			for _, w := range tt.want {
				assert.True(t, set.Contains(w), "expected keyword %q", w)
			}
			for _, w := range tt.skip {
				assert.False(t, set.Contains(w), "unexpected keyword %q", w)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	t.Run("identical sets score 1", func(t *testing.T) {
		a := Extract("heading level skips from H1 to H3 incorrectly")
		require.NotEmpty(t, a)
		assert.Equal(t, 1.0, Jaccard(a, a))
	})

	t.Run("disjoint sets score 0", func(t *testing.T) {
		a := Extract("color contrast insufficient")
		b := Extract("keyboard focus missing")
		assert.Equal(t, 0.0, Jaccard(a, b))
	})

	t.Run("empty union scores 0", func(t *testing.T) {
		assert.Equal(t, 0.0, Jaccard(Set{}, Set{}))
		assert.Equal(t, 0.0, Jaccard(nil, nil))
	})

	t.Run("partial overlap", func(t *testing.T) {
		a := Set{"focus": {}, "visible": {}, "button": {}}
		b := Set{"focus": {}, "visible": {}, "link": {}}
		// intersection 2, union 4
		assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Extract("table headers not associated with data cells")
		b := Extract("data table missing header association")
		assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
	})
}

func TestSimilarity(t *testing.T) {
	score := Similarity(
		"Focus indicator not visible on search button",
		"Focus outline missing from search button element",
	)
	assert.Greater(t, score, 0.2)
	assert.Less(t, score, 1.0)
}
