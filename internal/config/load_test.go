package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `
version: "1"
containers:
  db:
    template: alpine-3.19
    includes: [postgresql]
    exposed_ports: 5432
    environment:
      POSTGRES_PASSWORD: ${DB_PASSWORD}
      MAX_CONN: 100
  web:
    image: ubuntu:24.04
    depends_on: db
    packages: [nginx, curl]
    exposed_ports: [80, 443]
    mounts:
      - ./site:/var/www/html
      - source: /srv/certs
        target: /etc/ssl/site
    services:
      app:
        command: /usr/bin/app --port 8080
        autostart: true
    post_install:
      - name: Enable site
        command: ln -sf /etc/nginx/sites-available/app /etc/nginx/sites-enabled/app
      - echo done
    tests:
      internal:
        - health:/tests/health.sh
      port_forwarding:
        - http:tests/http.sh
    logs:
      - nginx:/var/log/nginx/access.log
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDocument_WithEnvFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "lxc-compose.yml", sampleDocument)
	writeFile(t, dir, ".env", "DB_PASSWORD=s3cret\n")

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	assert.Equal(t, dir, doc.Dir)
	assert.Equal(t, filepath.Join(dir, ".env"), doc.EnvFile)
	assert.Equal(t, []string{"db", "web"}, doc.Names())

	db, ok := doc.Container("db")
	require.True(t, ok)
	assert.Equal(t, "alpine-3.19", db.Template)
	assert.Equal(t, StringList{"postgresql"}, db.Includes)
	assert.Equal(t, PortList{5432}, db.ExposedPorts)
	assert.Equal(t, "s3cret", db.Environment["POSTGRES_PASSWORD"])
	assert.Equal(t, "100", db.Environment["MAX_CONN"])

	web, ok := doc.Container("web")
	require.True(t, ok)
	assert.Equal(t, StringList{"db"}, web.DependsOn)
	assert.Equal(t, PortList{80, 443}, web.ExposedPorts)
	assert.Equal(t, []Mount{
		{Source: "./site", Target: "/var/www/html"},
		{Source: "/srv/certs", Target: "/etc/ssl/site"},
	}, web.Mounts)
	assert.Equal(t, "true", web.Services["app"]["autostart"])
	require.Len(t, web.PostInstall, 2)
	assert.Equal(t, "Enable site", web.PostInstall[0].Name)
	assert.Equal(t, "echo done", web.PostInstall[1].Command)
	assert.Equal(t, []TestEntry{{Name: "health", Path: "/tests/health.sh"}}, web.Tests[TestInternal])
	assert.Equal(t, []TestEntry{{Name: "http", Path: "tests/http.sh"}}, web.Tests[TestPortForwarding])
	assert.Equal(t, []LogEntry{{Name: "nginx", Path: "/var/log/nginx/access.log"}}, web.Logs)
}

func TestLoadDocument_WithoutEnvFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "lxc-compose.yml", sampleDocument)

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	db, _ := doc.Container("db")
	assert.Equal(t, "${DB_PASSWORD}", db.Environment["POSTGRES_PASSWORD"])
	assert.Empty(t, doc.EnvFile)
}

func TestLoadDocument_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadDocument(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read compose file")
}

func TestFindFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := FindFile(dir, "")
	require.Error(t, err)

	want := writeFile(t, dir, "lxc-compose.yaml", sampleDocument)
	got, err := FindFile(dir, "")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = FindFile(dir, "custom.yml")
	require.NoError(t, err)
	assert.Equal(t, "custom.yml", got)
}

func TestExpandEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{"HOST": "db.local", "PORT": "5432"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "url: ${HOST}:${PORT}", "url: db.local:5432"},
		{"bare", "host: $HOST", "host: db.local"},
		{"unknown kept", "home: $HOME and ${USER}", "home: $HOME and ${USER}"},
		{"no refs", "plain", "plain"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExpandEnv(tt.in, env))
		})
	}
}

func TestParse_ListForm(t *testing.T) {
	t.Parallel()
	doc, err := Parse([]byte(`
containers:
  - name: cache
    image: images:alpine/3.19
  - name: app
    template: ubuntu-24.04
    depends_on: [cache]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "app"}, doc.Names())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		doc   string
		kind  ErrorKind
		field string
	}{
		{
			name: "duplicate in list",
			doc:  "containers:\n  - name: a\n  - name: a\n",
			kind: DuplicateName, field: "name",
		},
		{
			name: "duplicate in map",
			doc:  "containers:\n  a: {}\n  a: {}\n",
			kind: DuplicateName, field: "name",
		},
		{
			name: "missing name in list",
			doc:  "containers:\n  - image: ubuntu:24.04\n",
			kind: InvalidField, field: "name",
		},
		{
			name: "unknown field",
			doc:  "containers:\n  a:\n    imagee: ubuntu\n",
			kind: InvalidField, field: "imagee",
		},
		{
			name: "bad port",
			doc:  "containers:\n  a:\n    exposed_ports: [70000]\n",
			kind: InvalidField, field: "exposed_ports",
		},
		{
			name: "bad mount",
			doc:  "containers:\n  a:\n    mounts: [nocolon]\n",
			kind: InvalidField, field: "mounts",
		},
		{
			name: "unknown test kind",
			doc:  "containers:\n  a:\n    tests:\n      smoke: [x:y.sh]\n",
			kind: InvalidField, field: "tests",
		},
		{
			name: "conflicting base",
			doc:  "containers:\n  a:\n    template: alpine-3.19\n    image: ubuntu:24.04\n",
			kind: ConflictingBase, field: "template",
		},
		{
			name: "self dependency",
			doc:  "containers:\n  a:\n    depends_on: a\n",
			kind: CircularDependency, field: "depends_on",
		},
		{
			name: "no containers",
			doc:  "version: 1\n",
			kind: InvalidField, field: "containers",
		},
		{
			name: "bad name",
			doc:  "containers:\n  my_app: {}\n",
			kind: InvalidField, field: "name",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.field, ce.Field)
			assert.True(t, IsKind(err, tt.kind))
		})
	}
}
