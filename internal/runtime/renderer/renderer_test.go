package renderer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRenderer_ExtractsTitleAndURLFromState(t *testing.T) {
	r := InMemoryRenderer{}
	view, err := r.Render(context.Background(), "tab:1", map[string]any{"title": "Example", "url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, PageView{TabID: "tab:1", Title: "Example", URL: "https://example.com"}, view)
}

func TestInMemoryRenderer_MissingFieldsYieldZeroValues(t *testing.T) {
	r := InMemoryRenderer{}
	view, err := r.Render(context.Background(), "tab:2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "", view.Title)
	assert.Equal(t, "", view.URL)
}
