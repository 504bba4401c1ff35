package dirman

import (
	"github.com/driftchan/driftchan/internal/domain"
)

// UsageSource supplies per-folder aggregates for the report.
type UsageSource interface {
	DirectoryUsage(folderId domain.FolderId, includeThumbs bool) (bytes int64, files int, err error)
}

// DirectoryUsage is one row of the admin usage report.
type DirectoryUsage struct {
	Directory domain.UploadDirectory
	Active    bool
	Files     int
	Bytes     int64
}

// Usage reports files and bytes for every registered directory,
// ordered by folder id. Thumbnail rows are always included here; the
// report shows what is physically on disk, not what counts against
// the quota.
func (m *Manager) Usage(source UsageSource) ([]DirectoryUsage, error) {
	reg, err := loadRegistry(m.settings)
	if err != nil {
		return nil, err
	}

	var out []DirectoryUsage
	for _, dir := range reg.ordered() {
		bytes, files, err := source.DirectoryUsage(dir.Id, true)
		if err != nil {
			return nil, err
		}
		out = append(out, DirectoryUsage{
			Directory: dir,
			Active:    dir.Id == reg.current,
			Files:     files,
			Bytes:     bytes,
		})
	}
	return out, nil
}
