package specstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/imamik/lxc-compose/internal/config"
)

// maxAliasDepth bounds alias chains in addition to cycle detection.
const maxAliasDepth = 8

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Library is a caching Store backed by a Fetcher.
type Library struct {
	fetcher Fetcher

	mu        sync.Mutex
	templates map[string]*Template
	services  map[string]*LibraryService
}

// NewLibrary creates a Library reading through f.
func NewLibrary(f Fetcher) *Library {
	return &Library{
		fetcher:   f,
		templates: make(map[string]*Template),
		services:  make(map[string]*LibraryService),
	}
}

// Location describes where definitions are read from.
func (l *Library) Location() string {
	return l.fetcher.Location()
}

type templateFile struct {
	Alias *struct {
		Template string `yaml:"template"`
	} `yaml:"alias"`
	Template *templateBody `yaml:"template"`
}

type templateBody struct {
	Name         string                  `yaml:"name"`
	Image        string                  `yaml:"image"`
	OS           string                  `yaml:"os"`
	Version      string                  `yaml:"version"`
	BasePackages config.StringList       `yaml:"base_packages"`
	Environment  config.StringMap        `yaml:"environment"`
	InitCommands []config.LabeledCommand `yaml:"init_commands"`
}

// Template implements Store. Alias templates are followed; a cycle is an
// error.
func (l *Library) Template(ctx context.Context, name string) (*Template, error) {
	l.mu.Lock()
	cached, ok := l.templates[name]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	tmpl, err := l.resolveTemplate(ctx, name, nil)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.templates[name] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}

func (l *Library) resolveTemplate(ctx context.Context, name string, chain []string) (*Template, error) {
	if !nameRegex.MatchString(name) {
		return nil, fmt.Errorf("template %q: invalid name: %w", name, ErrNotFound)
	}
	for _, seen := range chain {
		if seen == name {
			return nil, fmt.Errorf("template alias cycle: %s -> %s", strings.Join(chain, " -> "), name)
		}
	}
	if len(chain) >= maxAliasDepth {
		return nil, fmt.Errorf("template alias chain too deep: %s", strings.Join(chain, " -> "))
	}
	chain = append(chain, name)

	data, err := l.fetcher.Fetch(ctx, path.Join("templates", name+".yml"))
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
	}

	if file.Alias != nil && file.Alias.Template != "" {
		tmpl, err := l.resolveTemplate(ctx, file.Alias.Template, chain)
		if err != nil {
			return nil, err
		}
		alias := *tmpl
		if alias.OS == "" {
			alias.OS, alias.Version, _ = TemplatePlatform(name)
		}
		return &alias, nil
	}
	if file.Template == nil {
		return nil, fmt.Errorf("template %q: file has neither template nor alias section", name)
	}

	body := file.Template
	tmpl := &Template{
		Name:         name,
		Image:        body.Image,
		OS:           body.OS,
		Version:      body.Version,
		BasePackages: body.BasePackages,
		Environment:  body.Environment,
		InitCommands: body.InitCommands,
	}
	if tmpl.OS == "" || tmpl.Version == "" {
		if os, version, ok := TemplatePlatform(name); ok {
			tmpl.OS, tmpl.Version = os, version
		} else if os, version, ok := ImagePlatform(body.Image); ok {
			tmpl.OS, tmpl.Version = os, version
		}
	}
	return tmpl, nil
}

// Service implements Store. The first container of the service's compose
// file is the definition.
func (l *Library) Service(ctx context.Context, os, version, name string) (*LibraryService, error) {
	for _, part := range []string{os, version, name} {
		if !nameRegex.MatchString(part) {
			return nil, fmt.Errorf("service %s/%s/%s: invalid name: %w", os, version, name, ErrNotFound)
		}
	}
	dir := path.Join("services", os, version, name)

	l.mu.Lock()
	cached, ok := l.services[dir]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := l.fetcher.Fetch(ctx, path.Join(dir, "lxc-compose.yml"))
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", dir, err)
	}

	doc, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service %s: %w", dir, err)
	}
	c := doc.Containers[0]

	svc := &LibraryService{
		Name:         name,
		OS:           os,
		Version:      version,
		Packages:     c.Packages,
		ExposedPorts: c.ExposedPorts,
		Mounts:       c.Mounts,
		Environment:  c.Environment,
		Services:     c.Services,
		PostInstall:  c.PostInstall,
		Tests:        c.Tests,
		Logs:         c.Logs,
		Path:         dir,
	}

	l.mu.Lock()
	l.services[dir] = svc
	l.mu.Unlock()
	return svc, nil
}

// Script reads a file relative to the library root, such as a service's
// test script.
func (l *Library) Script(ctx context.Context, name string) ([]byte, error) {
	return l.fetcher.Fetch(ctx, name)
}

// Templates lists template names when the fetcher supports listing.
func (l *Library) Templates(ctx context.Context) ([]string, error) {
	lister, ok := l.fetcher.(Lister)
	if !ok {
		return nil, fmt.Errorf("library %s does not support listing", l.fetcher.Location())
	}
	files, err := lister.List(ctx, "templates")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files {
		if strings.HasSuffix(f, ".yml") {
			names = append(names, strings.TrimSuffix(f, ".yml"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// IsNotFound reports whether err means a definition is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
