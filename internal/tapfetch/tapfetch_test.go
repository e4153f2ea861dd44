package tapfetch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsAnonymousClientWithNilHTTPClient(t *testing.T) {
	c := New(nil)
	require.NotNil(t, c)
	require.NotNil(t, c.gh)
}
