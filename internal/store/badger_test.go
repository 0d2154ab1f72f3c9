package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPassageKV(t *testing.T) *PassageKV {
	t.Helper()
	kv, err := OpenPassageKV("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	require.NoError(t, kv.Put(context.Background(), testPassages()))
	return kv
}

func TestPassageKV_GetRoundTripsMetadata(t *testing.T) {
	kv := newTestPassageKV(t)

	p, err := kv.Get(context.Background(), "eia-7")
	require.NoError(t, err)
	assert.Equal(t, "EIA s. 7", p.Citation)
	assert.Equal(t, []string{"eir-14"}, p.Cites)
	assert.True(t, p.EffectiveDate.Equal(date("2019-01-01")))

	_, err = kv.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPassageKV_ScanVisitsAllInKeyOrder(t *testing.T) {
	kv := newTestPassageKV(t)

	var ids []string
	err := kv.Scan(context.Background(), func(p *Passage) error {
		ids = append(ids, p.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cpp-42", "eia-7", "eir-14", "on-ows-5"}, ids)
}

func TestPassageKV_ScanStopsEarly(t *testing.T) {
	kv := newTestPassageKV(t)

	n := 0
	err := kv.Scan(context.Background(), func(p *Passage) error {
		n++
		if n == 2 {
			return ErrStopScan
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPassageKV_ScanHonorsCancellation(t *testing.T) {
	kv := newTestPassageKV(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := kv.Scan(ctx, func(p *Passage) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPassageKV_DeleteAndCount(t *testing.T) {
	kv := newTestPassageKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Delete(ctx, []string{"cpp-42"}))
	n, err := kv.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPassageKV_Persistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scan")
	ctx := context.Background()

	kv, err := OpenPassageKV(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, testPassages()))
	require.NoError(t, kv.Close())

	kv, err = OpenPassageKV(dir)
	require.NoError(t, err)
	defer func() { _ = kv.Close() }()

	n, err := kv.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
