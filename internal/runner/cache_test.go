package runner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
	data  []byte
}

func (f *countingFetcher) Fetch(_ context.Context, _ string) (io.ReadCloser, error) {
	f.calls.Add(1)
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestTarballCache_ExtractsOncePerKey(t *testing.T) {
	dir := t.TempDir()
	fetcher := &countingFetcher{data: buildTarball(t, map[string]string{"module.py": "print('hi')"})}
	cache := NewTarballCache(dir, fetcher)

	uri := "s3://bucket/core-v1.tar.gz"
	got1, err := cache.Dir(context.Background(), uri)
	require.NoError(t, err)
	got2, err := cache.Dir(context.Background(), uri)
	require.NoError(t, err)

	require.Equal(t, got1, got2)
	require.Equal(t, int32(1), fetcher.calls.Load())

	content, err := os.ReadFile(filepath.Join(got1, "module.py"))
	require.NoError(t, err)
	require.Equal(t, "print('hi')", string(content))
}

func TestTarballCacheKey_IsTrimmedAndStable(t *testing.T) {
	k1 := tarballCacheKey("s3://bucket/core-v1.tar.gz")
	k2 := tarballCacheKey("  s3://bucket/core-v1.tar.gz  ")
	require.Equal(t, k1, k2)
	require.Len(t, k1, 16)
}
