// Package dirman decides, creates and tracks the physical directory
// that receives the next uploaded file.
package dirman

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/domain"
	internal_errors "github.com/driftchan/driftchan/internal/errors"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
)

const guardFile = "index.html"

type Manager struct {
	settings config.SettingsStore
	baseDir  string
	policy   domain.RotationPolicy
	sandbox  []string // roots the process may create directories under
	detect   RootDetector
	now      func() time.Time
}

// New builds a Manager. extraSandbox widens the set of permitted
// locations beyond the base directory.
func New(settings config.SettingsStore, uploads config.Uploads, extraSandbox ...string) *Manager {
	base := filepath.Clean(uploads.BaseDir)
	sandbox := append([]string{base}, extraSandbox...)
	for i := range sandbox {
		sandbox[i] = filepath.Clean(sandbox[i])
	}
	return &Manager{
		settings: settings,
		baseDir:  base,
		policy:   uploads.Policy(),
		sandbox:  sandbox,
		detect:   DefaultRootDetector,
		now:      time.Now,
	}
}

// Directories returns the registered upload directories ordered by id.
func (m *Manager) Directories() ([]domain.UploadDirectory, error) {
	reg, err := loadRegistry(m.settings)
	if err != nil {
		return nil, err
	}
	return reg.ordered(), nil
}

// PathFor resolves a folder id to its physical path.
func (m *Manager) PathFor(id domain.FolderId) (string, error) {
	reg, err := loadRegistry(m.settings)
	if err != nil {
		return "", err
	}
	path, ok := reg.dirs[id]
	if !ok {
		return "", fmt.Errorf("unknown upload directory id %d", id)
	}
	return path, nil
}

// Current returns the active upload directory.
func (m *Manager) Current() (domain.UploadDirectory, error) {
	reg, err := loadRegistry(m.settings)
	if err != nil {
		return domain.UploadDirectory{}, err
	}
	path, ok := reg.dirs[reg.current]
	if !ok {
		return domain.UploadDirectory{}, fmt.Errorf("%w: no active upload directory", internal_errors.ErrNoDirectory)
	}
	return domain.UploadDirectory{Id: reg.current, Path: path}, nil
}

// EnsureActiveDirectory makes sure an upload directory exists and is
// selected as current. It is a no-op unless the request is an admin
// context or carries at least one non-empty file.
func (m *Manager) EnsureActiveDirectory(adminContext bool, nonEmptyFiles int) error {
	if !adminContext && nonEmptyFiles == 0 {
		return nil
	}

	if err := m.recordPolicy(); err != nil {
		return err
	}

	candidate, err := m.candidatePath()
	if err != nil {
		return err
	}

	reg, err := loadRegistry(m.settings)
	if err != nil {
		return err
	}
	if id, ok := reg.idForPath(candidate); ok {
		if reg.current != id {
			reg.current = id
			return reg.persist(m.settings)
		}
		return nil
	}

	id, err := m.CreateDirectory(candidate)
	if err != nil {
		return err
	}
	return m.setCurrent(id)
}

// recordPolicy persists the policy that governs the registry, so admin
// surfaces and other processes can see which scheme minted the current
// directory layout.
func (m *Manager) recordPolicy() error {
	current, ok, err := m.settings.Get(config.KeyRotationPolicy)
	if err != nil {
		return fmt.Errorf("failed to read rotation policy: %w", err)
	}
	if ok && current == m.policy.String() {
		return nil
	}
	return m.settings.Set(config.KeyRotationPolicy, m.policy.String())
}

// candidatePath computes the destination the rotation policy wants.
func (m *Manager) candidatePath() (string, error) {
	now := m.now()
	switch m.policy {
	case domain.RotatePerYear:
		return filepath.Join(m.baseDir, strconv.Itoa(now.Year())), nil
	case domain.RotatePerYearMonth:
		return filepath.Join(m.baseDir, strconv.Itoa(now.Year()), fmt.Sprintf("%02d", int(now.Month()))), nil
	case domain.RotateRandom1:
		seg, err := randomSegment()
		if err != nil {
			return "", err
		}
		return filepath.Join(m.baseDir, seg), nil
	case domain.RotateRandom2:
		seg1, err := randomSegment()
		if err != nil {
			return "", err
		}
		seg2, err := randomSegment()
		if err != nil {
			return "", err
		}
		return filepath.Join(m.baseDir, seg1, seg2), nil
	default:
		return m.baseDir, nil
	}
}

func randomSegment() (string, error) {
	b := make([]byte, 1)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to pick random subdirectory: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateDirectory creates the full hierarchy for path inside the
// sandbox and registers it with the next folder id. Calling it again
// with the same path returns the existing id without minting a new one.
// On any failure nothing is registered.
func (m *Manager) CreateDirectory(path string) (domain.FolderId, error) {
	clean := filepath.Clean(path)

	reg, err := loadRegistry(m.settings)
	if err != nil {
		return 0, err
	}
	if id, ok := reg.idForPath(clean); ok {
		return id, nil
	}

	segments := SplitPathSegments(clean, m.detect)
	if len(segments) == 0 {
		return 0, fmt.Errorf("%w: empty path", internal_errors.ErrNoDirectory)
	}

	prefix := ""
	for i, seg := range segments {
		if i == 0 {
			prefix = seg
		} else {
			prefix = filepath.Join(prefix, seg)
		}
		if !m.permitted(prefix) {
			// Ancestors of a sandbox root are fine to traverse, just not to create.
			if _, err := os.Stat(prefix); err == nil {
				continue
			}
			return 0, fmt.Errorf("%w: %s is outside the permitted locations", internal_errors.ErrNoDirectory, prefix)
		}
		if _, err := os.Stat(prefix); os.IsNotExist(err) {
			if err := os.Mkdir(prefix, 0755); err != nil && !os.IsExist(err) {
				// os.IsExist covers the benign race where another
				// process created the same segment first.
				return 0, fmt.Errorf("%w: cannot create %s: %v", internal_errors.ErrNoDirectory, prefix, err)
			}
		}
	}

	if err := m.verifyWritable(clean); err != nil {
		return 0, err
	}
	m.writeGuard(clean)

	id := reg.nextId()
	reg.dirs[id] = clean
	if err := reg.persist(m.settings); err != nil {
		return 0, err
	}
	return id, nil
}

// permitted reports whether prefix lies at or below a sandbox root.
func (m *Manager) permitted(prefix string) bool {
	for _, root := range m.sandbox {
		if prefix == root {
			return true
		}
		if strings.HasPrefix(prefix, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (m *Manager) verifyWritable(dir string) error {
	probe := filepath.Join(dir, ".write_probe")
	f, err := os.Create(probe)
	if err != nil {
		// One permission relaxation attempt before giving up.
		if chmodErr := os.Chmod(dir, 0755); chmodErr == nil {
			f, err = os.Create(probe)
		}
		if err != nil {
			return fmt.Errorf("%w: %s is not writable: %v", internal_errors.ErrNoDirectory, dir, err)
		}
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// writeGuard drops an empty guard file so a misconfigured static file
// server never lists the directory. Best effort.
func (m *Manager) writeGuard(dir string) {
	guard := filepath.Join(dir, guardFile)
	if _, err := os.Stat(guard); os.IsNotExist(err) {
		if err := os.WriteFile(guard, nil, 0644); err != nil {
			logger.Log.Warn("failed to write directory guard file", "dir", dir, "error", err)
		}
	}
}

func (m *Manager) setCurrent(id domain.FolderId) error {
	reg, err := loadRegistry(m.settings)
	if err != nil {
		return err
	}
	reg.current = id
	return reg.persist(m.settings)
}

// RotateBySpace creates the next attachments_<n> directory under the
// base dir and selects it as current. Only meaningful under the manual
// counter policy; callers gate on that.
func (m *Manager) RotateBySpace() (domain.UploadDirectory, error) {
	counters, err := m.loadCounters()
	if err != nil {
		return domain.UploadDirectory{}, err
	}
	n := counters[m.baseDir] + 1

	path := filepath.Join(m.baseDir, fmt.Sprintf("attachments_%d", n))
	id, err := m.CreateDirectory(path)
	if err != nil {
		return domain.UploadDirectory{}, err
	}

	counters[m.baseDir] = n
	if err := m.persistCounters(counters); err != nil {
		return domain.UploadDirectory{}, err
	}
	if err := m.setCurrent(id); err != nil {
		return domain.UploadDirectory{}, err
	}

	metrics.DirectoryRotations.Inc()
	logger.Log.Info("rotated upload directory", "path", path, "folder_id", id)
	return domain.UploadDirectory{Id: id, Path: path}, nil
}

// Policy exposes the configured rotation policy.
func (m *Manager) Policy() domain.RotationPolicy { return m.policy }

func (m *Manager) loadCounters() (map[string]int, error) {
	counters := make(map[string]int)
	raw, ok, err := m.settings.Get(config.KeyBaseCounters)
	if err != nil {
		return nil, fmt.Errorf("failed to read rotation counters: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &counters); err != nil {
			return nil, fmt.Errorf("corrupt rotation counters: %w", err)
		}
	}
	return counters, nil
}

func (m *Manager) persistCounters(counters map[string]int) error {
	raw, err := json.Marshal(counters)
	if err != nil {
		return err
	}
	return m.settings.Set(config.KeyBaseCounters, string(raw))
}
