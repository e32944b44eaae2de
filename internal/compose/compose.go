package compose

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/specstore"
)

// Layer names used to tag commands and tests.
const (
	SourceTemplate = "Template"
	SourceLocal    = "Local"
)

// DefaultImage is used when a container names neither template nor image.
const DefaultImage = "ubuntu:24.04"

// Merged is the fully resolved configuration of one container.
type Merged struct {
	Name         string                                 `yaml:"name"`
	Template     string                                 `yaml:"template,omitempty"`
	Image        string                                 `yaml:"image"`
	OS           string                                 `yaml:"os,omitempty"`
	Version      string                                 `yaml:"version,omitempty"`
	Packages     []string                               `yaml:"packages,omitempty"`
	ExposedPorts []int                                  `yaml:"exposed_ports,omitempty,flow"`
	Mounts       []config.Mount                         `yaml:"mounts,omitempty"`
	Environment  map[string]string                      `yaml:"environment,omitempty"`
	Services     map[string]map[string]string           `yaml:"services,omitempty"`
	Commands     []config.LabeledCommand                `yaml:"commands,omitempty"`
	Tests        map[config.TestKind][]config.TestEntry `yaml:"tests,omitempty"`
	Logs         []config.LogEntry                      `yaml:"logs,omitempty"`
	DependsOn    []string                               `yaml:"depends_on,omitempty,flow"`
}

// YAML renders the merged configuration. Map keys are sorted, so the output
// is byte-identical across runs.
func (m *Merged) YAML() ([]byte, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", m.Name, err)
	}
	return out, nil
}

// TestsOf returns the tests of one kind.
func (m *Merged) TestsOf(kind config.TestKind) []config.TestEntry {
	return m.Tests[kind]
}

// layer is the common shape of every merge input.
type layer struct {
	source       string
	libraryPath  string
	packages     []string
	exposedPorts []int
	mounts       []config.Mount
	environment  map[string]string
	services     map[string]config.StringMap
	commands     []config.LabeledCommand
	tests        config.Tests
	logs         []config.LogEntry
}

// Compose resolves spec against store.
func Compose(ctx context.Context, spec config.ContainerSpec, store specstore.Store) (*Merged, error) {
	m := &Merged{
		Name:        spec.Name,
		Environment: map[string]string{},
		Services:    map[string]map[string]string{},
		Tests:       map[config.TestKind][]config.TestEntry{},
	}

	switch {
	case spec.Template != "" && spec.Image != "":
		return nil, &config.ConfigError{
			Kind: config.ConflictingBase, Container: spec.Name, Field: "template",
			Detail: fmt.Sprintf("template %q and image %q are mutually exclusive", spec.Template, spec.Image),
		}
	case spec.Template != "":
		tmpl, err := store.Template(ctx, spec.Template)
		if err != nil {
			if specstore.IsNotFound(err) {
				return nil, &config.ConfigError{
					Kind: config.UnknownTemplate, Container: spec.Name, Field: "template",
					Detail: fmt.Sprintf("template %q not found", spec.Template),
				}
			}
			return nil, fmt.Errorf("container %s: %w", spec.Name, err)
		}
		m.Template = spec.Template
		m.Image = tmpl.Image
		m.OS, m.Version = tmpl.OS, tmpl.Version
		m.apply(layer{
			source:      SourceTemplate,
			packages:    tmpl.BasePackages,
			environment: tmpl.Environment,
			commands:    tmpl.InitCommands,
		})
	default:
		m.Image = spec.Image
		if m.Image == "" {
			m.Image = DefaultImage
		}
		m.OS, m.Version, _ = specstore.ImagePlatform(m.Image)
	}

	for _, name := range spec.Includes {
		if m.OS == "" || m.Version == "" {
			return nil, &config.ConfigError{
				Kind: config.UnknownInclude, Container: spec.Name, Field: "includes",
				Detail: fmt.Sprintf("cannot resolve %q: base image %q has no known os/version", name, m.Image),
			}
		}
		svc, err := store.Service(ctx, m.OS, m.Version, name)
		if err != nil {
			if specstore.IsNotFound(err) {
				return nil, &config.ConfigError{
					Kind: config.UnknownInclude, Container: spec.Name, Field: "includes",
					Detail: fmt.Sprintf("library service %q not found for %s/%s", name, m.OS, m.Version),
				}
			}
			return nil, fmt.Errorf("container %s: %w", spec.Name, err)
		}
		m.apply(layer{
			source:       name,
			libraryPath:  svc.Path,
			packages:     svc.Packages,
			exposedPorts: svc.ExposedPorts,
			mounts:       svc.Mounts,
			environment:  svc.Environment,
			services:     svc.Services,
			commands:     svc.PostInstall,
			tests:        svc.Tests,
			logs:         svc.Logs,
		})
	}

	m.apply(layer{
		source:       SourceLocal,
		packages:     spec.Packages,
		exposedPorts: spec.ExposedPorts,
		mounts:       spec.Mounts,
		environment:  spec.Environment,
		services:     spec.Services,
		commands:     spec.PostInstall,
		tests:        spec.Tests,
		logs:         spec.Logs,
	})
	m.DependsOn = appendUnique(nil, spec.DependsOn...)

	return m, nil
}

func (m *Merged) apply(l layer) {
	m.Packages = appendUnique(m.Packages, l.packages...)
	m.ExposedPorts = appendUnique(m.ExposedPorts, l.exposedPorts...)
	maps.Copy(m.Environment, l.environment)
	for name, svc := range l.services {
		m.Services[name] = maps.Clone(map[string]string(svc))
	}

	for _, c := range l.commands {
		c.Source = l.source
		m.Commands = append(m.Commands, c)
	}

	for _, mount := range l.mounts {
		m.Mounts = replaceOrAppend(m.Mounts, mount, func(a, b config.Mount) bool { return a.Target == b.Target })
	}
	for _, log := range l.logs {
		m.Logs = replaceOrAppend(m.Logs, log, func(a, b config.LogEntry) bool { return a.Name == b.Name })
	}

	for _, kind := range config.TestKinds {
		for _, t := range l.tests[kind] {
			t.Source = l.source
			t.LibraryPath = l.libraryPath
			m.Tests[kind] = replaceOrAppend(m.Tests[kind], t, func(a, b config.TestEntry) bool { return a.Name == b.Name })
		}
	}
}

// appendUnique appends values not already present, keeping first-seen order.
func appendUnique[T comparable](dst []T, values ...T) []T {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func replaceOrAppend[T any](dst []T, v T, same func(a, b T) bool) []T {
	for i := range dst {
		if same(dst[i], v) {
			dst[i] = v
			return dst
		}
	}
	return append(dst, v)
}

// All composes every container of doc, in document order. Every failure is
// reported, not only the first.
func All(ctx context.Context, doc *config.Document, store specstore.Store) ([]*Merged, error) {
	out := make([]*Merged, 0, len(doc.Containers))
	var errs []error
	for _, spec := range doc.Containers {
		m, err := Compose(ctx, spec, store)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, m)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
