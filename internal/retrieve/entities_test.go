package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractQueryEntities_Quoted(t *testing.T) {
	got := ExtractQueryEntities(context.Background(), nil, "", `what do you know about "Mount Fuji"?`)
	require.Contains(t, got, "Mount Fuji")
}

func TestExtractQueryEntities_Capitalized(t *testing.T) {
	got := ExtractQueryEntities(context.Background(), nil, "", "does Sarah like coffee")
	require.Contains(t, got, "Sarah")
}

func TestExtractQueryEntities_Chinese(t *testing.T) {
	got := ExtractQueryEntities(context.Background(), nil, "", "你还记得我和张伟的关系吗")
	require.NotEmpty(t, got)
}

func TestExtractQueryEntities_NoProviderNoMatch(t *testing.T) {
	got := ExtractQueryEntities(context.Background(), nil, "", "how are you")
	require.Empty(t, got)
}

func TestExtractQueryEntities_CapsAtThree(t *testing.T) {
	got := ExtractQueryEntities(context.Background(), nil, "", `"Alpha" "Beta" "Gamma" "Delta"`)
	require.Len(t, got, 3)
}

func TestWantsSemanticExpansion(t *testing.T) {
	require.True(t, WantsSemanticExpansion("I want to live by the 海边"))
	require.True(t, WantsSemanticExpansion("somewhere seaside"))
	require.False(t, WantsSemanticExpansion("I like pizza"))
}

func TestIsCoastalCity(t *testing.T) {
	require.True(t, IsCoastalCity("Qingdao"))
	require.True(t, IsCoastalCity("青岛"))
	require.False(t, IsCoastalCity("Beijing"))
}
