package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/domain"
)

type stubUsageStore struct {
	dirBytes  int64
	dirFiles  int
	postBytes int64
	postFiles int

	dirCalls int
}

func (s *stubUsageStore) DirectoryUsage(domain.FolderId, bool) (int64, int, error) {
	s.dirCalls++
	return s.dirBytes, s.dirFiles, nil
}

func (s *stubUsageStore) PostUsage(domain.MessageId) (int64, int, error) {
	return s.postBytes, s.postFiles, nil
}

type recordingNotifier struct{ calls int }

func (n *recordingNotifier) NotifyDirectoryNearFull(domain.FolderId, int64) { n.calls++ }

func TestPrimeFromStore(t *testing.T) {
	t.Run("loads totals once per batch", func(t *testing.T) {
		store := &stubUsageStore{dirBytes: 100, dirFiles: 2, postBytes: 10, postFiles: 1}
		tr := New(store, config.NewMemoryStore(), nil)

		require.NoError(t, tr.PrimeFromStore(1, 42, false))
		require.NoError(t, tr.PrimeFromStore(1, 42, false))

		assert.Equal(t, 1, store.dirCalls)
		assert.Equal(t, int64(100), tr.DirBytesUsed)
		assert.Equal(t, 2, tr.DirFilesUsed)
		assert.Equal(t, int64(10), tr.PostBytesUsed)
		assert.Equal(t, 1, tr.PostFileCount)
	})

	t.Run("reprime swaps directory counters, keeps post counters", func(t *testing.T) {
		store := &stubUsageStore{dirBytes: 100, dirFiles: 2, postBytes: 10, postFiles: 1}
		tr := New(store, config.NewMemoryStore(), nil)
		require.NoError(t, tr.PrimeFromStore(1, 42, false))

		store.dirBytes = 0
		store.dirFiles = 0
		require.NoError(t, tr.Reprime(2, false))

		assert.Equal(t, int64(0), tr.DirBytesUsed)
		assert.Equal(t, int64(10), tr.PostBytesUsed)
	})
}

func TestReserveRollback(t *testing.T) {
	store := &stubUsageStore{dirBytes: 50, dirFiles: 1}
	tr := New(store, config.NewMemoryStore(), nil)
	require.NoError(t, tr.PrimeFromStore(1, 0, false))

	tr.TryReserve(25)
	assert.Equal(t, int64(75), tr.DirBytesUsed)
	assert.Equal(t, 2, tr.DirFilesUsed)
	assert.Equal(t, int64(25), tr.PostBytesUsed)
	assert.Equal(t, 1, tr.PostFileCount)

	tr.Rollback(25)
	assert.Equal(t, int64(50), tr.DirBytesUsed)
	assert.Equal(t, 1, tr.DirFilesUsed)
	assert.Equal(t, int64(0), tr.PostBytesUsed)
	assert.Equal(t, 0, tr.PostFileCount)
}

func TestOverFull(t *testing.T) {
	tr := New(&stubUsageStore{}, config.NewMemoryStore(), nil)
	require.NoError(t, tr.PrimeFromStore(1, 0, false))
	limits := Limits{MaxDirBytes: 100, MaxDirFiles: 3}

	tr.TryReserve(100)
	assert.False(t, tr.OverFull(limits), "at the limit is not over")

	tr.TryReserve(1)
	assert.True(t, tr.OverFull(limits))

	t.Run("file count limit", func(t *testing.T) {
		tr := New(&stubUsageStore{dirFiles: 3}, config.NewMemoryStore(), nil)
		require.NoError(t, tr.PrimeFromStore(1, 0, false))
		tr.TryReserve(1)
		assert.True(t, tr.OverFull(limits))
	})

	t.Run("zero limits disable the check", func(t *testing.T) {
		tr := New(&stubUsageStore{dirBytes: 1 << 40}, config.NewMemoryStore(), nil)
		require.NoError(t, tr.PrimeFromStore(1, 0, false))
		assert.False(t, tr.OverFull(Limits{}))
	})
}

func TestNearFull(t *testing.T) {
	limits := Limits{MaxDirBytes: 100, WarnDirBytes: 10}

	t.Run("notifies exactly once per crossing", func(t *testing.T) {
		notifier := &recordingNotifier{}
		settings := config.NewMemoryStore()
		tr := New(&stubUsageStore{dirBytes: 85}, settings, notifier)
		require.NoError(t, tr.PrimeFromStore(1, 0, false))

		tr.TryReserve(7) // 92 used, 8 headroom
		assert.True(t, tr.NearFull(limits))
		assert.True(t, tr.NearFull(limits))
		assert.Equal(t, 1, notifier.calls)
	})

	t.Run("latch resets once headroom recovers", func(t *testing.T) {
		notifier := &recordingNotifier{}
		settings := config.NewMemoryStore()
		tr := New(&stubUsageStore{dirBytes: 95}, settings, notifier)
		require.NoError(t, tr.PrimeFromStore(1, 0, false))

		assert.True(t, tr.NearFull(limits))
		tr.Rollback(50)
		assert.False(t, tr.NearFull(limits))

		tr.TryReserve(50)
		assert.True(t, tr.NearFull(limits))
		assert.Equal(t, 2, notifier.calls)
	})

	t.Run("disabled without a warn threshold", func(t *testing.T) {
		tr := New(&stubUsageStore{dirBytes: 99}, config.NewMemoryStore(), &recordingNotifier{})
		require.NoError(t, tr.PrimeFromStore(1, 0, false))
		assert.False(t, tr.NearFull(Limits{MaxDirBytes: 100}))
	})
}
