package collection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	cerr "github.com/codescope/codescope/internal/errors"
)

// mappingFile is the persisted user_name -> canonical_id table, written
// atomically under the data directory.
const mappingFile = "collection_mapping.json"

// Mapper resolves user collection names to canonical ids and persists the
// mapping. File access is serialised with an advisory lock so concurrent
// processes agree on assignments.
type Mapper struct {
	path string
	lock *flock.Flock
}

// NewMapper creates a mapper rooted at dir (typically {data_dir}/collections).
func NewMapper(dir string) (*Mapper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "create mapping directory", err)
	}
	path := filepath.Join(dir, mappingFile)
	return &Mapper{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Resolve returns the canonical id for a user name, assigning and
// persisting a new one on first use. Collisions between distinct user
// names get a short content-hash suffix.
func (m *Mapper) Resolve(userName string) (string, error) {
	if userName == "" {
		return "", cerr.New(cerr.KindInvalidInput, "collection name must not be empty")
	}

	if err := m.lock.Lock(); err != nil {
		return "", cerr.Wrap(cerr.KindConflict, "acquire mapping lock", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	mapping, err := m.load()
	if err != nil {
		return "", err
	}

	if id, ok := mapping[userName]; ok {
		return id, nil
	}

	canonical := Canonicalize(userName)
	if m.taken(mapping, canonical) {
		canonical = canonical + "-" + collisionSuffix(userName)
	}

	mapping[userName] = canonical
	if err := m.save(mapping); err != nil {
		return "", err
	}
	return canonical, nil
}

// Lookup returns the canonical id without assigning one.
func (m *Mapper) Lookup(userName string) (string, error) {
	if err := m.lock.RLock(); err != nil {
		return "", cerr.Wrap(cerr.KindConflict, "acquire mapping lock", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	mapping, err := m.load()
	if err != nil {
		return "", err
	}
	id, ok := mapping[userName]
	if !ok {
		return "", cerr.Newf(cerr.KindNotFound, "collection %q not found", userName)
	}
	return id, nil
}

// Remove deletes the mapping entry for a user name.
func (m *Mapper) Remove(userName string) error {
	if err := m.lock.Lock(); err != nil {
		return cerr.Wrap(cerr.KindConflict, "acquire mapping lock", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	mapping, err := m.load()
	if err != nil {
		return err
	}
	if _, ok := mapping[userName]; !ok {
		return nil
	}
	delete(mapping, userName)
	return m.save(mapping)
}

// List returns user names sorted, with their canonical ids.
func (m *Mapper) List() (map[string]string, []string, error) {
	if err := m.lock.RLock(); err != nil {
		return nil, nil, cerr.Wrap(cerr.KindConflict, "acquire mapping lock", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	mapping, err := m.load()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)
	return mapping, names, nil
}

func (m *Mapper) taken(mapping map[string]string, canonical string) bool {
	for _, id := range mapping {
		if id == canonical {
			return true
		}
	}
	return false
}

func (m *Mapper) load() (map[string]string, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "read collection mapping", err)
	}

	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, cerr.Wrap(cerr.KindCorruption, "decode collection mapping", err)
	}
	return mapping, nil
}

// save writes the mapping via write-to-temp + rename.
func (m *Mapper) save(mapping map[string]string) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, "encode collection mapping", err)
	}
	if err := renameio.WriteFile(m.path, data, 0o644); err != nil {
		return cerr.Wrap(cerr.KindInternal, "write collection mapping", err)
	}
	return nil
}
