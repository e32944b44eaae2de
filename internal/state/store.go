package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
)

// maxPreviousIPs bounds the address history kept per container.
const maxPreviousIPs = 5

// Record is one container's entry in the allocation file.
type Record struct {
	IP          string   `json:"ip"`
	Ports       []int    `json:"ports"`
	PreviousIPs []string `json:"previous_ips,omitempty"`
}

// UnmarshalJSON accepts the legacy form where the entry is a bare IP string.
func (r *Record) UnmarshalJSON(data []byte) error {
	var ip string
	if err := json.Unmarshal(data, &ip); err == nil {
		*r = Record{IP: ip}
		return nil
	}
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	return nil
}

// KnownIPs returns the current address followed by previous ones.
func (r Record) KnownIPs() []string {
	out := make([]string, 0, 1+len(r.PreviousIPs))
	if r.IP != "" {
		out = append(out, r.IP)
	}
	for _, ip := range r.PreviousIPs {
		if ip != "" && !slices.Contains(out, ip) {
			out = append(out, ip)
		}
	}
	return out
}

// Store reads and writes the allocation file. Every call re-reads the file
// so that changes made by an earlier CLI run are always visible.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns every record. A missing file is an empty record set.
func (s *Store) Load() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (map[string]Record, error) {
	// #nosec G304
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	records := map[string]Record{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return records, nil
}

func (s *Store) write(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	return WriteFileAtomic(s.path, append(data, '\n'), 0o644)
}

// Get returns the record for name.
func (s *Store) Get(name string) (Record, bool, error) {
	records, err := s.Load()
	if err != nil {
		return Record{}, false, err
	}
	r, ok := records[name]
	return r, ok, nil
}

// Save records ip and ports for name. When the address changes, the old one
// moves into the history.
func (s *Store) Save(name, ip string, ports []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	prev := records[name]
	rec := Record{IP: ip, Ports: slices.Clone(ports), PreviousIPs: prev.PreviousIPs}
	if rec.Ports == nil {
		rec.Ports = []int{}
	}
	if prev.IP != "" && prev.IP != ip {
		rec.PreviousIPs = append([]string{prev.IP}, rec.PreviousIPs...)
	}
	rec.PreviousIPs = slices.DeleteFunc(slices.Clone(rec.PreviousIPs), func(p string) bool { return p == ip })
	rec.PreviousIPs = dedupe(rec.PreviousIPs)
	if len(rec.PreviousIPs) > maxPreviousIPs {
		rec.PreviousIPs = rec.PreviousIPs[:maxPreviousIPs]
	}

	records[name] = rec
	return s.write(records)
}

// Remove deletes the record for name. Removing a missing name is a no-op.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[name]; !ok {
		return nil
	}
	delete(records, name)
	return s.write(records)
}

// KnownIPs returns every address recorded for name.
func (s *Store) KnownIPs(name string) ([]string, error) {
	r, _, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return r.KnownIPs(), nil
}

// Names returns recorded container names, sorted.
func (s *Store) Names() ([]string, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for n := range records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func dedupe(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, creating the parent directory if needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
