package formula

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchesVersionSpecWildcard(t *testing.T) {
	ok, err := MatchesVersionSpec("2.1.1", "*")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatchesVersionSpecExactPin(t *testing.T) {
	ok, err := MatchesVersionSpec("2.1.1", "2.1.1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesVersionSpec("2.1.0", "2.1.1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatchesVersionSpecRange(t *testing.T) {
	ok, err := MatchesVersionSpec("2.5.0", ">=2.0.0, <3.0.0")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesVersionSpec("3.1.0", ">=2.0.0, <3.0.0")
	require.NoError(t, err)
	require.False(t, ok)
}
