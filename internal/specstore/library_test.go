package specstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/lxc-compose/internal/config"
)

// writeLibrary lays out files under a temporary library root.
func writeLibrary(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return root
}

const alpineTemplate = `
template:
  image: images:alpine/3.19
  base_packages: [bash, curl]
  environment:
    TZ: UTC
  init_commands:
    - name: Update index
      command: apk update
`

const redisService = `
containers:
  redis:
    template: alpine-3.19
    packages: [redis]
    exposed_ports: [6379]
    environment:
      REDIS_PORT: 6379
    services:
      redis:
        command: redis-server
    post_install:
      - name: Configure redis
        command: sed -i 's/bind 127.0.0.1/bind 0.0.0.0/' /etc/redis.conf
    tests:
      internal:
        - crud:tests/crud.sh
    logs:
      - redis:/var/log/redis/redis.log
`

func TestLibrary_Template(t *testing.T) {
	t.Parallel()
	root := writeLibrary(t, map[string]string{
		"templates/alpine-3.19.yml": alpineTemplate,
		"templates/alpine.yml":      "alias:\n  template: alpine-3.19\n",
	})
	lib := NewLibrary(&DirFetcher{Root: root})

	tmpl, err := lib.Template(context.Background(), "alpine-3.19")
	require.NoError(t, err)
	assert.Equal(t, "images:alpine/3.19", tmpl.Image)
	assert.Equal(t, "alpine", tmpl.OS)
	assert.Equal(t, "3.19", tmpl.Version)
	assert.Equal(t, []string{"bash", "curl"}, tmpl.BasePackages)
	assert.Equal(t, map[string]string{"TZ": "UTC"}, tmpl.Environment)
	require.Len(t, tmpl.InitCommands, 1)
	assert.Equal(t, "apk update", tmpl.InitCommands[0].Command)

	alias, err := lib.Template(context.Background(), "alpine")
	require.NoError(t, err)
	assert.Equal(t, tmpl.Image, alias.Image)
	assert.Equal(t, "alpine", alias.OS)
}

func TestLibrary_TemplatePlatformFromImage(t *testing.T) {
	t.Parallel()
	root := writeLibrary(t, map[string]string{
		"templates/custom-debian.yml": "template:\n  image: images:debian/bookworm\n",
	})
	lib := NewLibrary(&DirFetcher{Root: root})

	tmpl, err := lib.Template(context.Background(), "custom-debian")
	require.NoError(t, err)
	assert.Equal(t, "debian", tmpl.OS)
	assert.Equal(t, "12", tmpl.Version)
}

func TestLibrary_TemplateErrors(t *testing.T) {
	t.Parallel()
	root := writeLibrary(t, map[string]string{
		"templates/a.yml":     "alias:\n  template: b\n",
		"templates/b.yml":     "alias:\n  template: a\n",
		"templates/empty.yml": "description: nothing here\n",
	})
	lib := NewLibrary(&DirFetcher{Root: root})

	_, err := lib.Template(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = lib.Template(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alias cycle")
	assert.False(t, IsNotFound(err))

	_, err = lib.Template(context.Background(), "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither template nor alias")

	_, err = lib.Template(context.Background(), "../etc/passwd")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestLibrary_Service(t *testing.T) {
	t.Parallel()
	root := writeLibrary(t, map[string]string{
		"services/alpine/3.19/redis/lxc-compose.yml": redisService,
		"services/alpine/3.19/redis/tests/crud.sh":   "#!/bin/sh\nredis-cli ping\n",
	})
	lib := NewLibrary(&DirFetcher{Root: root})

	svc, err := lib.Service(context.Background(), "alpine", "3.19", "redis")
	require.NoError(t, err)
	assert.Equal(t, "services/alpine/3.19/redis", svc.Path)
	assert.Equal(t, []string{"redis"}, svc.Packages)
	assert.Equal(t, []int{6379}, svc.ExposedPorts)
	assert.Equal(t, "6379", svc.Environment["REDIS_PORT"])
	assert.Equal(t, "redis-server", svc.Services["redis"]["command"])
	assert.Equal(t, []config.TestEntry{{Name: "crud", Path: "tests/crud.sh"}}, svc.Tests[config.TestInternal])
	assert.Equal(t, []config.LogEntry{{Name: "redis", Path: "/var/log/redis/redis.log"}}, svc.Logs)

	script, err := lib.Script(context.Background(), svc.Path+"/tests/crud.sh")
	require.NoError(t, err)
	assert.Contains(t, string(script), "redis-cli ping")

	_, err = lib.Service(context.Background(), "alpine", "3.19", "nginx")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// countingFetcher counts fetches to verify caching.
type countingFetcher struct {
	Fetcher
	calls map[string]int
}

func (c *countingFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	c.calls[name]++
	return c.Fetcher.Fetch(ctx, name)
}

func TestLibrary_Caches(t *testing.T) {
	t.Parallel()
	root := writeLibrary(t, map[string]string{
		"templates/alpine-3.19.yml":                  alpineTemplate,
		"services/alpine/3.19/redis/lxc-compose.yml": redisService,
	})
	f := &countingFetcher{Fetcher: &DirFetcher{Root: root}, calls: map[string]int{}}
	lib := NewLibrary(f)

	for i := 0; i < 3; i++ {
		_, err := lib.Template(context.Background(), "alpine-3.19")
		require.NoError(t, err)
		_, err = lib.Service(context.Background(), "alpine", "3.19", "redis")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.calls["templates/alpine-3.19.yml"])
	assert.Equal(t, 1, f.calls["services/alpine/3.19/redis/lxc-compose.yml"])
}

func TestLibrary_Templates(t *testing.T) {
	t.Parallel()
	root := writeLibrary(t, map[string]string{
		"templates/ubuntu-24.04.yml": "template:\n  image: ubuntu:24.04\n",
		"templates/alpine-3.19.yml":  alpineTemplate,
		"templates/README.md":        "docs",
	})
	lib := NewLibrary(&DirFetcher{Root: root})

	names, err := lib.Templates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpine-3.19", "ubuntu-24.04"}, names)
}
