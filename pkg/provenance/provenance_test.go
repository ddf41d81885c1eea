package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BindsContentHash(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tag := New("observer", TrustExternal, "https://example.com/a", "hello world", now)

	assert.Equal(t, SchemaVersion, tag.SchemaVersion)
	assert.Equal(t, TrustExternal, tag.Trust)
	assert.NotEmpty(t, tag.ContentHash)

	other := New("observer", TrustExternal, "https://example.com/a", "different content", now)
	assert.NotEqual(t, tag.ContentHash, other.ContentHash)
}

func TestTag_Marker(t *testing.T) {
	ext := Tag{Trust: TrustExternal}
	internal := Tag{Trust: TrustInternal}

	assert.Equal(t, "[EXT]", ext.Marker())
	assert.Equal(t, "", internal.Marker())
}

func TestTag_SidecarKeyIsStableAndContentBound(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tag := New("observer", TrustExternal, "https://example.com/a", "hello world", now)

	key1, err := tag.SidecarKey()
	require.NoError(t, err)
	key2, err := tag.SidecarKey()
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	other := New("observer", TrustExternal, "https://example.com/a", "different content", now)
	otherKey, err := other.SidecarKey()
	require.NoError(t, err)
	assert.NotEqual(t, key1, otherKey)
}
