package device

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityGeneratedOnceAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "device.json")

	first, err := NewIdentity(path).ID(context.Background())
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err, "device id should be a uuid")

	second, err := NewIdentity(path).ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestIdentityCachesAfterFirstRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	ident := NewIdentity(path)

	id, err := ident.ID(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	again, err := ident.ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestIdentityConcurrentInstancesAgree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	const n = 6
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := NewIdentity(path).ID(context.Background())
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIdentityEmptyPath(t *testing.T) {
	_, err := NewIdentity(" ").ID(context.Background())
	assert.ErrorIs(t, err, ErrEmptyPath)
}
