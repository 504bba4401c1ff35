package dirman

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/domain"
)

// registry is the durable folderId -> path mapping plus the current
// folder pointer. It is reloaded from the settings store on every
// operation so concurrent processes see each other's registrations.
type registry struct {
	dirs    map[domain.FolderId]string
	current domain.FolderId
}

func loadRegistry(settings config.SettingsStore) (*registry, error) {
	reg := &registry{dirs: make(map[domain.FolderId]string)}

	raw, ok, err := settings.Get(config.KeyDirectories)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory registry: %w", err)
	}
	if ok && raw != "" {
		// JSON object keys are strings; ids are parsed back out.
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("corrupt directory registry: %w", err)
		}
		for k, v := range m {
			id, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("corrupt directory registry key %q: %w", k, err)
			}
			reg.dirs[id] = v
		}
	}

	cur, ok, err := settings.Get(config.KeyCurrentFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to read current folder id: %w", err)
	}
	if ok && cur != "" {
		id, err := strconv.Atoi(cur)
		if err != nil {
			return nil, fmt.Errorf("corrupt current folder id %q: %w", cur, err)
		}
		reg.current = id
	}

	return reg, nil
}

func (r *registry) persist(settings config.SettingsStore) error {
	m := make(map[string]string, len(r.dirs))
	for id, path := range r.dirs {
		m[strconv.Itoa(id)] = path
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := settings.Set(config.KeyDirectories, string(raw)); err != nil {
		return fmt.Errorf("failed to persist directory registry: %w", err)
	}
	if err := settings.Set(config.KeyCurrentFolder, strconv.Itoa(r.current)); err != nil {
		return fmt.Errorf("failed to persist current folder id: %w", err)
	}
	return nil
}

func (r *registry) nextId() domain.FolderId {
	max := 0
	for id := range r.dirs {
		if id > max {
			max = id
		}
	}
	return max + 1
}

func (r *registry) idForPath(path string) (domain.FolderId, bool) {
	for id, p := range r.dirs {
		if p == path {
			return id, true
		}
	}
	return 0, false
}

func (r *registry) ordered() []domain.UploadDirectory {
	out := make([]domain.UploadDirectory, 0, len(r.dirs))
	for id, path := range r.dirs {
		out = append(out, domain.UploadDirectory{Id: id, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}
