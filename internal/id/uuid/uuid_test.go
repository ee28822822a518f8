package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorRawIDsAreTimeOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	a, err := gen.NewRawID()
	require.NoError(t, err)
	b, err := gen.NewRawID()
	require.NoError(t, err)
	assert.Less(t, a.String(), b.String())
}
