package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftchan/driftchan/internal/domain"
)

func TestRunSweep(t *testing.T) {
	t.Run("deletes orphaned thumbnail rows and files", func(t *testing.T) {
		destDir := t.TempDir()
		storage := newMockStorage()
		svc := NewAttachments(storage, mapResolver{1: destDir}, fixedHasher("aa"), nil)
		sweeper := NewThumbnailSweeper(storage, svc)

		orphan := &domain.AttachmentRecord{
			Id:          5,
			Kind:        domain.KindThumbnail,
			FolderId:    1,
			ContentHash: "aa",
			ByteSize:    123,
		}
		storage.rows[orphan.Id] = orphan
		storage.orphans = []*domain.AttachmentRecord{orphan}
		storage.refsCut = 2
		require.NoError(t, os.WriteFile(filepath.Join(destDir, orphan.DiskName()), []byte("x"), 0644))

		require.NoError(t, sweeper.RunSweep())

		stats := sweeper.LastRunStats()
		assert.Equal(t, 1, stats.OrphansFound)
		assert.Equal(t, 1, stats.OrphansDeleted)
		assert.Equal(t, int64(123), stats.BytesReclaimed)
		assert.Equal(t, int64(2), stats.DanglingRefsCut)
		assert.Empty(t, stats.Errors)

		_, ok := storage.rows[orphan.Id]
		assert.False(t, ok)
		_, err := os.Stat(filepath.Join(destDir, orphan.DiskName()))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("empty sweep records zeroed stats", func(t *testing.T) {
		storage := newMockStorage()
		svc := NewAttachments(storage, mapResolver{}, fixedHasher("bb"), nil)
		sweeper := NewThumbnailSweeper(storage, svc)

		require.NoError(t, sweeper.RunSweep())
		stats := sweeper.LastRunStats()
		assert.Zero(t, stats.OrphansFound)
		assert.Zero(t, stats.OrphansDeleted)
		assert.False(t, stats.RunAt.IsZero())
	})

	t.Run("missing files do not block row deletion", func(t *testing.T) {
		storage := newMockStorage()
		svc := NewAttachments(storage, mapResolver{1: t.TempDir()}, fixedHasher("cc"), nil)
		sweeper := NewThumbnailSweeper(storage, svc)

		orphan := &domain.AttachmentRecord{Id: 9, Kind: domain.KindThumbnail, FolderId: 1, ContentHash: "cc"}
		storage.rows[orphan.Id] = orphan
		storage.orphans = []*domain.AttachmentRecord{orphan}

		require.NoError(t, sweeper.RunSweep())
		assert.Equal(t, 1, sweeper.LastRunStats().OrphansDeleted)
		_, ok := storage.rows[orphan.Id]
		assert.False(t, ok)
	})
}
