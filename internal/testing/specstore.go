package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/specstore"
)

// MemStore is an in-memory specstore.Store with library scripts.
type MemStore struct {
	mu        sync.Mutex
	templates map[string]*specstore.Template
	services  map[string]*specstore.LibraryService
	scripts   map[string][]byte

	// Lookups counts Template and Service calls.
	Lookups int
}

var _ specstore.Store = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		templates: map[string]*specstore.Template{},
		services:  map[string]*specstore.LibraryService{},
		scripts:   map[string][]byte{},
	}
}

// NewAlpineStore returns a store with the alpine-3.19 template and a redis
// library service exposing 6379.
func NewAlpineStore() *MemStore {
	s := NewMemStore()
	s.AddTemplate(&specstore.Template{
		Name:         "alpine-3.19",
		Image:        "images:alpine/3.19",
		OS:           "alpine",
		Version:      "3.19",
		BasePackages: []string{"bash"},
		InitCommands: []config.LabeledCommand{{Name: "index", Command: "apk update"}},
	})
	s.AddService(&specstore.LibraryService{
		Name:         "redis",
		OS:           "alpine",
		Version:      "3.19",
		Packages:     []string{"redis"},
		ExposedPorts: []int{6379},
		Services:     map[string]config.StringMap{"redis": {"command": "redis-server /etc/redis.conf"}},
		PostInstall:  []config.LabeledCommand{{Name: "bind", Command: "sed -i 's/^bind .*/bind 0.0.0.0/' /etc/redis.conf"}},
		Tests: config.Tests{
			config.TestInternal: {{Name: "ping", Path: "tests/ping.sh"}},
		},
		Path: "services/alpine/3.19/redis",
	})
	s.AddScript("services/alpine/3.19/redis/tests/ping.sh", "redis-cli ping\n")
	return s
}

// AddTemplate registers a template under its name.
func (s *MemStore) AddTemplate(t *specstore.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Name] = t
}

// AddService registers a library service under (os, version, name).
func (s *MemStore) AddService(svc *specstore.LibraryService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.OS+"/"+svc.Version+"/"+svc.Name] = svc
}

// AddScript registers a script at a store-relative path.
func (s *MemStore) AddScript(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = []byte(content)
}

// Template implements specstore.Store.
func (s *MemStore) Template(_ context.Context, name string) (*specstore.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", name, specstore.ErrNotFound)
	}
	return t, nil
}

// Service implements specstore.Store.
func (s *MemStore) Service(_ context.Context, os, version, name string) (*specstore.LibraryService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	svc, ok := s.services[os+"/"+version+"/"+name]
	if !ok {
		return nil, fmt.Errorf("service %s for %s/%s: %w", name, os, version, specstore.ErrNotFound)
	}
	return svc, nil
}

// Script returns a library script.
func (s *MemStore) Script(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.scripts[name]
	if !ok {
		return nil, fmt.Errorf("script %s: %w", name, specstore.ErrNotFound)
	}
	return data, nil
}
