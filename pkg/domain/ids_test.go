package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id := NewIdentity()

	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseIdentity("not-a-uuid")
	assert.Error(t, err)
}

func TestIdentityIsNil(t *testing.T) {
	assert.True(t, Identity{}.IsNil())
	assert.True(t, Identity(uuid.Nil).IsNil())
	assert.False(t, NewIdentity().IsNil())
}

func TestHashNameDeterministic(t *testing.T) {
	first, err := HashName("waku.eth")
	require.NoError(t, err)
	second, err := HashName("waku.eth")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := HashName("waku.net")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestHashNameCaseSensitive(t *testing.T) {
	lower, err := HashName("example.eth")
	require.NoError(t, err)
	upper, err := HashName("EXAMPLE.eth")
	require.NoError(t, err)
	assert.NotEqual(t, lower, upper)
}

func TestHashNameRejectsEmpty(t *testing.T) {
	_, err := HashName("")
	assert.Error(t, err)
}

func TestParseNameHashRoundTrip(t *testing.T) {
	h, err := HashName("waku.eth")
	require.NoError(t, err)

	parsed, err := ParseNameHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseNameHash("abcd")
	assert.Error(t, err)
	_, err = ParseNameHash("zz")
	assert.Error(t, err)
}
