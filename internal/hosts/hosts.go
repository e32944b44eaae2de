// Package hosts maintains the lxc-compose managed section of hosts files.
package hosts

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Section markers delimiting the managed block.
const (
	BeginMarker = "# BEGIN lxc-compose managed section"
	EndMarker   = "# END lxc-compose managed section"
)

// SharedSeed is written to a shared hosts file that does not exist yet.
const SharedSeed = `# LXC Compose managed hosts file
127.0.0.1	localhost
::1	localhost ip6-localhost ip6-loopback

# Container entries
`

// File is a hosts file with a managed section. Writes happen in place so
// that bind mounts of the file into containers keep seeing updates.
type File struct {
	Path string
	// Seed is the initial content when the file is missing. Without a seed
	// a missing file is an error.
	Seed string

	mu sync.Mutex
}

// NewShared returns the shared hosts file mounted into every container.
func NewShared(path string) *File {
	return &File{Path: path, Seed: SharedSeed}
}

// NewSystem returns the host's own hosts file.
func NewSystem(path string) *File {
	return &File{Path: path}
}

// Ensure creates the file from its seed when missing.
func (f *File) Ensure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.read()
	return err
}

// Entries returns the managed name to address mapping.
func (f *File) Entries() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, err := f.read()
	if err != nil {
		return nil, err
	}
	_, entries, _ := split(lines)
	return entries, nil
}

// Set adds or updates the line for name.
func (f *File) Set(name, ip string) error {
	return f.update(func(entries map[string]string) bool {
		if entries[name] == ip {
			return false
		}
		entries[name] = ip
		return true
	})
}

// Remove deletes the line for name.
func (f *File) Remove(name string) error {
	return f.update(func(entries map[string]string) bool {
		if _, ok := entries[name]; !ok {
			return false
		}
		delete(entries, name)
		return true
	})
}

func (f *File) update(mutate func(map[string]string) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.read()
	if err != nil {
		return err
	}
	outside, entries, at := split(lines)
	if !mutate(entries) {
		return nil
	}
	return f.write(render(outside, entries, at))
}

func (f *File) read() ([]string, error) {
	// #nosec G304
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || f.Seed == "" {
			return nil, fmt.Errorf("failed to read hosts file %s: %w", f.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(f.Path), err)
		}
		if err := f.write(f.Seed); err != nil {
			return nil, err
		}
		data = []byte(f.Seed)
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func (f *File) write(content string) error {
	// #nosec G306
	if err := os.WriteFile(f.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write hosts file %s: %w", f.Path, err)
	}
	return nil
}

// split separates unmanaged lines from managed entries. at is the index in
// outside where the managed block sits, or -1 when there is none. A block
// missing its end marker runs to EOF; its non-entry lines stay in outside.
func split(lines []string) (outside []string, entries map[string]string, at int) {
	entries = map[string]string{}
	at = -1
	inBlock := false
	var stray []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == BeginMarker:
			inBlock = true
			if at < 0 {
				at = len(outside)
			}
		case trimmed == EndMarker:
			inBlock = false
			stray = nil
		case inBlock:
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 && !strings.HasPrefix(fields[0], "#") {
				entries[fields[1]] = fields[0]
			} else {
				stray = append(stray, line)
			}
		default:
			outside = append(outside, line)
		}
	}
	if inBlock {
		outside = append(outside, stray...)
	}
	return outside, entries, at
}

func render(outside []string, entries map[string]string, at int) string {
	var block []string
	if len(entries) > 0 {
		names := make([]string, 0, len(entries))
		for n := range entries {
			names = append(names, n)
		}
		sort.Strings(names)
		block = append(block, BeginMarker)
		for _, n := range names {
			block = append(block, entries[n]+"\t"+n)
		}
		block = append(block, EndMarker)
	}

	if at < 0 {
		at = len(outside)
	}
	out := make([]string, 0, len(outside)+len(block))
	out = append(out, outside[:at]...)
	out = append(out, block...)
	out = append(out, outside[at:]...)
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// Files fans updates out to several hosts files.
type Files []*File

// Set updates name in every file.
func (files Files) Set(name, ip string) error {
	var errs []error
	for _, f := range files {
		if err := f.Set(name, ip); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove deletes name from every file.
func (files Files) Remove(name string) error {
	var errs []error
	for _, f := range files {
		if err := f.Remove(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
