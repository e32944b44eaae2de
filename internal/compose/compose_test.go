package compose

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/specstore"
)

// memStore is an in-memory specstore.Store.
type memStore struct {
	templates map[string]*specstore.Template
	services  map[string]*specstore.LibraryService
	err       error
}

func (s *memStore) Template(_ context.Context, name string) (*specstore.Template, error) {
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", name, specstore.ErrNotFound)
	}
	return t, nil
}

func (s *memStore) Service(_ context.Context, os, version, name string) (*specstore.LibraryService, error) {
	svc, ok := s.services[os+"/"+version+"/"+name]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", name, specstore.ErrNotFound)
	}
	return svc, nil
}

func newStore() *memStore {
	return &memStore{
		templates: map[string]*specstore.Template{
			"alpine-3.19": {
				Name:         "alpine-3.19",
				Image:        "images:alpine/3.19",
				OS:           "alpine",
				Version:      "3.19",
				BasePackages: []string{"bash", "curl"},
				Environment:  map[string]string{"TZ": "UTC", "LEVEL": "template", "MAXMEMORY": "t"},
				InitCommands: []config.LabeledCommand{{Name: "index", Command: "apk update"}},
			},
		},
		services: map[string]*specstore.LibraryService{
			"alpine/3.19/redis": {
				Name:         "redis",
				Packages:     []string{"redis", "curl"},
				ExposedPorts: []int{6379},
				Environment:  map[string]string{"LEVEL": "include", "MAXMEMORY": "redis"},
				Services:     map[string]config.StringMap{"redis": {"command": "redis-server"}},
				PostInstall:  []config.LabeledCommand{{Name: "bind", Command: "sed -i s/127.0.0.1/0.0.0.0/ /etc/redis.conf"}},
				Tests: config.Tests{
					config.TestInternal: {{Name: "crud", Path: "tests/crud.sh"}},
				},
				Mounts: []config.Mount{{Source: "redis-data", Target: "/var/lib/redis"}},
				Logs:   []config.LogEntry{{Name: "redis", Path: "/var/log/redis.log"}},
				Path:   "services/alpine/3.19/redis",
			},
			"alpine/3.19/nginx": {
				Name:         "nginx",
				Packages:     []string{"nginx"},
				ExposedPorts: []int{80, 6379},
				Services:     map[string]config.StringMap{"nginx": {"command": "nginx -g 'daemon off;'"}},
				Tests: config.Tests{
					config.TestExternal: {{Name: "http", Path: "tests/http.sh"}},
				},
				Path: "services/alpine/3.19/nginx",
			},
		},
	}
}

func redisSpec() config.ContainerSpec {
	return config.ContainerSpec{
		Name:         "cache",
		Template:     "alpine-3.19",
		Includes:     config.StringList{"redis", "nginx"},
		Packages:     config.StringList{"redis", "htop", "bash"},
		ExposedPorts: config.PortList{6379, 8080},
		Environment:  config.StringMap{"LEVEL": "local"},
		Services:     map[string]config.StringMap{"redis": {"command": "redis-server /etc/redis.conf"}},
		Mounts:       []config.Mount{{Source: "./data", Target: "/var/lib/redis"}},
		PostInstall:  []config.LabeledCommand{{Name: "done", Command: "echo done"}},
		Tests: config.Tests{
			config.TestInternal: {{Name: "local", Path: "/opt/test.sh"}},
		},
		DependsOn: config.StringList{"db"},
	}
}

func TestCompose_ThreeLayers(t *testing.T) {
	t.Parallel()

	m, err := Compose(context.Background(), redisSpec(), newStore())
	require.NoError(t, err)

	assert.Equal(t, "cache", m.Name)
	assert.Equal(t, "images:alpine/3.19", m.Image)
	assert.Equal(t, "alpine", m.OS)
	assert.Equal(t, "3.19", m.Version)
	assert.Equal(t, []string{"bash", "curl", "redis", "nginx", "htop"}, m.Packages)
	assert.Equal(t, []int{6379, 80, 8080}, m.ExposedPorts)
	assert.Equal(t, []string{"db"}, m.DependsOn)

	assert.Equal(t, "local", m.Environment["LEVEL"], "local layer wins over template and include")
	assert.Equal(t, "redis", m.Environment["MAXMEMORY"], "include wins over template")
	assert.Equal(t, "UTC", m.Environment["TZ"])

	assert.Equal(t, "redis-server /etc/redis.conf", m.Services["redis"]["command"])
	assert.Contains(t, m.Services, "nginx")

	assert.Equal(t, []config.Mount{{Source: "./data", Target: "/var/lib/redis"}}, m.Mounts)

	require.Len(t, m.Commands, 3)
	assert.Equal(t, SourceTemplate, m.Commands[0].Source)
	assert.Equal(t, "redis", m.Commands[1].Source)
	assert.Equal(t, SourceLocal, m.Commands[2].Source)

	assert.Equal(t, []config.TestEntry{
		{Name: "crud", Path: "tests/crud.sh", Source: "redis", LibraryPath: "services/alpine/3.19/redis"},
		{Name: "local", Path: "/opt/test.sh", Source: SourceLocal},
	}, m.Tests[config.TestInternal])
	assert.Equal(t, []config.TestEntry{
		{Name: "http", Path: "tests/http.sh", Source: "nginx", LibraryPath: "services/alpine/3.19/nginx"},
	}, m.TestsOf(config.TestExternal))
	assert.Equal(t, []config.LogEntry{{Name: "redis", Path: "/var/log/redis.log"}}, m.Logs)
}

func TestCompose_Deterministic(t *testing.T) {
	t.Parallel()
	store := newStore()

	first, err := Compose(context.Background(), redisSpec(), store)
	require.NoError(t, err)
	second, err := Compose(context.Background(), redisSpec(), store)
	require.NoError(t, err)

	a, err := first.YAML()
	require.NoError(t, err)
	b, err := second.YAML()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first, second)
}

func TestCompose_NoDuplicates(t *testing.T) {
	t.Parallel()

	m, err := Compose(context.Background(), redisSpec(), newStore())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, p := range m.Packages {
		assert.False(t, seen[p], "duplicate package %s", p)
		seen[p] = true
	}
	ports := map[int]bool{}
	for _, p := range m.ExposedPorts {
		assert.False(t, ports[p], "duplicate port %d", p)
		ports[p] = true
	}
}

func TestCompose_LocalTestOverridesInherited(t *testing.T) {
	t.Parallel()
	spec := config.ContainerSpec{
		Name:     "cache",
		Template: "alpine-3.19",
		Includes: config.StringList{"redis"},
		Tests:    config.Tests{config.TestInternal: {{Name: "crud", Path: "/custom/crud.sh"}}},
	}

	m, err := Compose(context.Background(), spec, newStore())
	require.NoError(t, err)
	assert.Equal(t, []config.TestEntry{{Name: "crud", Path: "/custom/crud.sh", Source: SourceLocal}}, m.Tests[config.TestInternal])
}

func TestCompose_ImageBase(t *testing.T) {
	t.Parallel()

	m, err := Compose(context.Background(), config.ContainerSpec{
		Name:     "cache",
		Image:    "images:alpine/3.19",
		Includes: config.StringList{"redis"},
	}, newStore())
	require.NoError(t, err)
	assert.Equal(t, "images:alpine/3.19", m.Image)
	assert.Equal(t, []string{"redis", "curl"}, m.Packages)
	require.Len(t, m.Commands, 1)
	assert.Equal(t, "redis", m.Commands[0].Source)
}

func TestCompose_DefaultImage(t *testing.T) {
	t.Parallel()

	m, err := Compose(context.Background(), config.ContainerSpec{Name: "plain"}, newStore())
	require.NoError(t, err)
	assert.Equal(t, DefaultImage, m.Image)
	assert.Equal(t, "ubuntu", m.OS)
	assert.Equal(t, "24.04", m.Version)
}

func TestCompose_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec config.ContainerSpec
		kind config.ErrorKind
	}{
		{
			name: "unknown template",
			spec: config.ContainerSpec{Name: "a", Template: "fedora-40"},
			kind: config.UnknownTemplate,
		},
		{
			name: "conflicting base",
			spec: config.ContainerSpec{Name: "a", Template: "alpine-3.19", Image: "ubuntu:24.04"},
			kind: config.ConflictingBase,
		},
		{
			name: "unknown include",
			spec: config.ContainerSpec{Name: "a", Template: "alpine-3.19", Includes: config.StringList{"mongodb"}},
			kind: config.UnknownInclude,
		},
		{
			name: "include with unknown platform",
			spec: config.ContainerSpec{Name: "a", Image: "custom-image", Includes: config.StringList{"redis"}},
			kind: config.UnknownInclude,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compose(context.Background(), tt.spec, newStore())
			require.Error(t, err)
			var ce *config.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, "a", ce.Container)
		})
	}
}

func TestCompose_StoreFailureIsNotConfigError(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.err = errors.New("connection reset")

	_, err := Compose(context.Background(), config.ContainerSpec{Name: "a", Template: "alpine-3.19"}, store)
	require.Error(t, err)
	var ce *config.ConfigError
	assert.False(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestAll_AggregatesErrors(t *testing.T) {
	t.Parallel()
	doc := &config.Document{Containers: []config.ContainerSpec{
		{Name: "a", Template: "missing-1"},
		{Name: "b", Template: "alpine-3.19"},
		{Name: "c", Template: "alpine-3.19", Includes: config.StringList{"missing"}},
	}}

	_, err := All(context.Background(), doc, newStore())
	require.Error(t, err)
	assert.True(t, config.IsKind(err, config.UnknownTemplate))
	assert.True(t, config.IsKind(err, config.UnknownInclude))

	merged, err := All(context.Background(), &config.Document{Containers: doc.Containers[1:2]}, newStore())
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "b", merged[0].Name)
}
