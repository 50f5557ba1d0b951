//go:build !profile

package prof

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_Inert(t *testing.T) {
	assert.False(t, Enabled())

	dir := t.TempDir()
	s, err := Start(dir)
	require.NoError(t, err)
	assert.Empty(t, s.Dir())
	assert.NoError(t, s.Stop())

	var buf bytes.Buffer
	assert.NoError(t, Snapshot(&buf, ProfileGoroutine, 1))
	assert.Zero(t, buf.Len())
}
