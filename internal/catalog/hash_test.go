package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashReaderIsStableAndFixedWidth(t *testing.T) {
	h1, err := HashReader(strings.NewReader("hello trahl"))
	require.NoError(t, err)
	h2, err := HashReader(strings.NewReader("hello trahl"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestHashReaderDetectsSingleByteChange(t *testing.T) {
	h1, err := HashReader(strings.NewReader("hello trahl"))
	require.NoError(t, err)
	h2, err := HashReader(strings.NewReader("hellp trahl"))
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}
