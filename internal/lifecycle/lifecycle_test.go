package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/metrics"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	testutil "github.com/imamik/lxc-compose/internal/testing"
	"github.com/imamik/lxc-compose/internal/util/labels"
)

func TestOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		names []string
		deps  map[string][]string
		want  []string
	}{
		{
			name:  "no dependencies keeps document order",
			names: []string{"c", "a", "b"},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "dependency moves ahead",
			names: []string{"web", "db"},
			deps:  map[string][]string{"web": {"db"}},
			want:  []string{"db", "web"},
		},
		{
			name:  "diamond",
			names: []string{"app", "api", "worker", "db"},
			deps: map[string][]string{
				"app":    {"api", "worker"},
				"api":    {"db"},
				"worker": {"db"},
			},
			want: []string{"db", "api", "worker", "app"},
		},
		{
			name:  "external dependencies are ignored",
			names: []string{"web"},
			deps:  map[string][]string{"web": {"shared-db"}},
			want:  []string{"web"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Order(tt.names, tt.deps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrder_Cycle(t *testing.T) {
	t.Parallel()
	_, err := Order([]string{"a", "b", "c"}, map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})

	require.Error(t, err)
	assert.True(t, config.IsKind(err, config.CircularDependency))
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestSelect(t *testing.T) {
	t.Parallel()
	doc := testutil.NewDocumentBuilder().
		WithImage("db", "images:alpine/3.19").
		WithImage("cache", "images:alpine/3.19").
		WithImage("web", "images:alpine/3.19", "db").
		Build()

	withDeps, err := Select(doc, []string{"web"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "web"}, withDeps.Names())

	only, err := Select(doc, []string{"web"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, only.Names())

	all, err := Select(doc, nil, false)
	require.NoError(t, err)
	assert.Len(t, all.Containers, 3)

	_, err = Select(doc, []string{"nope"}, false)
	assert.ErrorContains(t, err, `"nope" is not defined`)
}

func TestProvisionError(t *testing.T) {
	t.Parallel()
	inner := errors.New("boom")
	err := errors.Join(
		&ProvisionError{Kind: StartTimeout, Container: "db", Err: inner},
		&ProvisionError{Kind: DependencyFailed, Container: "web", Err: inner},
	)

	assert.True(t, IsKind(err, StartTimeout))
	assert.True(t, IsKind(err, DependencyFailed))
	assert.False(t, IsKind(err, CreateFailed))
	assert.True(t, errors.Is(err, &ProvisionError{Kind: DependencyFailed, Container: "web"}))
	assert.False(t, errors.Is(err, &ProvisionError{Kind: DependencyFailed, Container: "db"}))
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, `StartTimeout: container "db": boom`, (&ProvisionError{Kind: StartTimeout, Container: "db", Err: inner}).Error())
}

func TestNewReconciler_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := NewReconciler(Deps{})
	assert.ErrorContains(t, err, "runtime is required")
}

func TestUp_ProvisionsNewContainer(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)

	require.NoError(t, h.r.Up(ctx, redisDoc(h.dir)))

	ct, err := h.rt.Get(ctx, "redis")
	require.NoError(t, err)
	assert.Equal(t, lxd.StateRunning, ct.Status)
	assert.Equal(t, []string{"10.0.3.2"}, ct.IPv4)
	assert.True(t, labels.IsManaged(ct.Config))

	opts, ok := h.rt.CreateOptions("redis")
	require.True(t, ok)
	assert.Equal(t, "images:alpine/3.19", opts.Image)
	assert.Contains(t, opts.Mounts, lxd.Mount{Name: hostsDevice, Source: h.settings.SharedHosts, Target: HostsTarget, ReadOnly: true})

	assert.Equal(t, []string{
		"apk update",
		"apk add --no-cache bash redis",
		"sh -c apk update",
		"sh -c sed -i 's/^bind .*/bind 0.0.0.0/' /etc/redis.conf",
		"supervisorctl reread",
		"supervisorctl update",
	}, h.rt.Commands("redis"))
	assert.Contains(t, h.rt.Files["redis:/etc/supervisor.d/redis.ini"], "command=redis-server /etc/redis.conf")

	forwards := h.portForwards()
	require.Len(t, forwards, 1)
	assert.Equal(t, 6379, forwards[0].HostPort)
	assert.Equal(t, "10.0.3.2", forwards[0].ContainerIP.String())
	assert.Equal(t, "redis", forwards[0].Owner)

	rec, ok, err := h.records.Get("redis")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.3.2", rec.IP)
	assert.Equal(t, []int{6379}, rec.Ports)
	assert.Equal(t, "10.0.3.2", h.hostsEntries()["redis"])
}

func TestUp_Idempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	doc := webDoc(h.dir)

	require.NoError(t, h.r.Up(ctx, doc))
	dump, calls := h.table.Dump(), h.table.Calls
	execs := len(h.rt.Commands("web"))

	require.NoError(t, h.r.Up(ctx, doc))

	assert.Equal(t, dump, h.table.Dump())
	assert.Equal(t, calls, h.table.Calls, "second reconcile must not touch the firewall")
	assert.Equal(t, 1, h.count("create", "web"))
	assert.Len(t, h.rt.Commands("web"), execs, "provisioning steps only run on creation")
}

func TestUp_DependencyOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)

	require.NoError(t, h.r.Up(ctx, webDoc(h.dir)))

	assert.Less(t, h.rt.Index("start", "db"), h.rt.Index("create", "web"))
}

func TestUp_CycleFailsBeforeSideEffects(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	doc := testutil.NewDocumentBuilder().
		WithImage("a", "images:alpine/3.19", "b").
		WithImage("b", "images:alpine/3.19", "a").
		Build()

	err := h.r.Up(testutil.TestContext(t), doc)

	require.Error(t, err)
	assert.True(t, config.IsKind(err, config.CircularDependency))
	assert.Empty(t, h.rt.Log)
	assert.Zero(t, h.table.Calls)
	assert.Zero(t, h.store.Lookups)
}

func TestUp_UnknownTemplateFailsBeforeSideEffects(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	doc := testutil.NewDocumentBuilder().
		WithImage("ok", "images:alpine/3.19").
		WithTemplate("bad", "centos-7").
		Build()

	err := h.r.Up(testutil.TestContext(t), doc)

	assert.True(t, config.IsKind(err, config.UnknownTemplate))
	assert.Empty(t, h.rt.Log)
}

func TestUp_UnknownDependency(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	doc := testutil.NewDocumentBuilder().WithImage("web", "images:alpine/3.19", "cache").Build()

	err := h.r.Up(testutil.TestContext(t), doc)

	assert.True(t, config.IsKind(err, config.UnknownDependency))
	assert.Empty(t, h.rt.Log)
}

func TestUp_StartsExternalDependency(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	h.rt.Seed("cache", lxd.StateStopped, "10.0.3.50")
	doc := testutil.NewDocumentBuilder().WithImage("web", "images:alpine/3.19", "cache").Build()

	require.NoError(t, h.r.Up(testutil.TestContext(t), doc))

	assert.Less(t, h.rt.Index("start", "cache"), h.rt.Index("create", "web"))
}

func TestUp_StartTimeoutSkipsDependents(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	h.rt.NeverRuns["db"] = true
	doc := testutil.NewDocumentBuilder().
		WithImage("db", "images:alpine/3.19").
		WithImage("web", "images:alpine/3.19", "db").
		WithImage("solo", "images:alpine/3.19").
		Build()

	err := h.r.Up(testutil.TestContext(t), doc)

	require.Error(t, err)
	assert.True(t, errors.Is(err, &ProvisionError{Kind: StartTimeout, Container: "db"}))
	assert.True(t, errors.Is(err, &ProvisionError{Kind: DependencyFailed, Container: "web"}))
	assert.ErrorIs(t, err, lxd.ErrWaitTimeout)
	assert.Equal(t, -1, h.rt.Index("create", "web"))

	solo, getErr := h.rt.Get(context.Background(), "solo")
	require.NoError(t, getErr)
	assert.True(t, solo.Running(), "independent branches continue")
	assert.Len(t, h.owned("solo"), 3)
}

func TestUp_CreateFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	h.rt.CreateErr["db"] = errors.New("image not found")

	err := h.r.Up(testutil.TestContext(t), webDoc(h.dir))

	assert.True(t, IsKind(err, CreateFailed))
	assert.True(t, IsKind(err, DependencyFailed))
	assert.Empty(t, h.owned("db"))
	_, ok, _ := h.records.Get("db")
	assert.False(t, ok)
}

func TestUp_CommandFailuresAreSoft(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	h.rt.ExecFunc = func(_ lxd.Handle, opts lxd.ExecOptions) (lxd.ExecResult, error) {
		if opts.Command[0] == "sh" {
			return lxd.ExecResult{Stderr: "sed: /etc/redis.conf: No such file", ExitCode: 2}, nil
		}
		return lxd.ExecResult{}, nil
	}

	require.NoError(t, h.r.Up(testutil.TestContext(t), redisDoc(h.dir)))

	warnings := h.observer.EventsOfType(provisioning.EventWarning)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0].Message, "[Template] index failed")
	assert.Contains(t, warnings[1].Message, "[redis] bind failed")
	assert.Len(t, h.portForwards(), 1, "network is reconciled after soft failures")
}

func TestUp_MountsAndEnvFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	envFile := testutil.WriteFile(t, h.dir, ".env", "TOKEN=x\n")
	doc := testutil.NewDocumentBuilder().
		WithDir(h.dir).
		WithContainer(config.ContainerSpec{
			Name:        "app",
			Image:       "ubuntu:24.04",
			Mounts:      []config.Mount{{Source: "./data", Target: "/srv/data"}},
			Environment: config.StringMap{"MODE": "prod"},
		}).
		Build()
	doc.EnvFile = envFile

	require.NoError(t, h.r.Up(testutil.TestContext(t), doc))

	opts, ok := h.rt.CreateOptions("app")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"MODE": "prod"}, opts.Environment)
	assert.Equal(t, []lxd.Mount{
		{Name: "srv-data", Source: filepath.Join(h.dir, "data"), Target: "/srv/data"},
		{Name: hostsDevice, Source: h.settings.SharedHosts, Target: HostsTarget, ReadOnly: true},
		{Name: envDevice, Source: envFile, Target: EnvTarget, ReadOnly: true},
	}, opts.Mounts)

	info, err := os.Stat(filepath.Join(h.dir, "data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestUp_Subset(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	doc := testutil.NewDocumentBuilder().
		WithImage("db", "images:alpine/3.19").
		WithImage("web", "images:alpine/3.19", "db").
		WithImage("other", "images:alpine/3.19").
		Build()

	require.NoError(t, h.r.Up(testutil.TestContext(t), doc, "web"))

	assert.Equal(t, 1, h.count("create", "db"))
	assert.Equal(t, 1, h.count("create", "web"))
	assert.Zero(t, h.count("create", "other"))
}

func TestUp_RecordsMetrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	h.r.Metrics = metrics.New()

	require.NoError(t, h.r.Up(testutil.TestContext(t), webDoc(h.dir)))

	families, err := h.r.Metrics.Gatherer().Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if f.GetName() == "lxc_compose_containers_managed" {
				found[f.GetName()] = m.GetGauge().GetValue()
			}
			if f.GetName() == "lxc_compose_reconcile_total" {
				found[f.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), found["lxc_compose_containers_managed"])
	assert.Equal(t, float64(2), found["lxc_compose_reconcile_total"])
}

func TestDown_KeepsAddressesAndRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	doc := webDoc(h.dir)
	require.NoError(t, h.r.Up(ctx, doc))
	dump := h.table.Dump()

	require.NoError(t, h.r.Down(ctx, doc))

	for _, name := range []string{"db", "web"} {
		ct, err := h.rt.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, lxd.StateStopped, ct.Status)
	}
	assert.Less(t, h.rt.Index("stop", "web"), h.rt.Index("stop", "db"))
	assert.Equal(t, dump, h.table.Dump())
	names, err := h.records.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "web"}, names)
}

func TestStart_ResumesWithoutCreating(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	doc := webDoc(h.dir)
	require.NoError(t, h.r.Up(ctx, doc, "db"))
	require.NoError(t, h.r.Down(ctx, doc))

	require.NoError(t, h.r.Start(ctx, doc))

	db, err := h.rt.Get(ctx, "db")
	require.NoError(t, err)
	assert.True(t, db.Running())
	assert.Equal(t, []string{"10.0.3.2"}, db.IPv4)
	assert.Equal(t, 1, h.count("create", "db"))
	assert.Zero(t, h.count("create", "web"))

	warnings := h.observer.EventsOfType(provisioning.EventWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "web", warnings[0].Resource)
}

func TestDestroy_OnlySelected(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	doc := webDoc(h.dir)
	require.NoError(t, h.r.Up(ctx, doc))

	require.NoError(t, h.r.Destroy(ctx, doc, "web"))

	_, err := h.rt.Get(ctx, "web")
	assert.ErrorIs(t, err, lxd.ErrNotFound)
	assert.Empty(t, h.owned("web"))
	assert.Empty(t, h.referencing("10.0.3.3"))
	assert.Len(t, h.owned("db"), 5)
	assert.Equal(t, map[string]string{"db": "10.0.3.2"}, h.hostsEntries())
	_, ok, err := h.records.Get("web")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDestroy_Missing(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())

	require.NoError(t, h.r.Destroy(testutil.TestContext(t), webDoc(h.dir)))
	assert.Equal(t, -1, h.rt.Index("delete", "web"))
}

func TestRecreateWithNewAddress(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	doc := webDoc(h.dir)
	require.NoError(t, h.r.Up(ctx, doc))

	// web disappears behind our back and its address is taken.
	require.NoError(t, h.rt.Stop(ctx, "web"))
	require.NoError(t, h.rt.Delete(ctx, "web"))
	h.rt.Seed("intruder", lxd.StateRunning, "10.0.3.3")

	require.NoError(t, h.r.Up(ctx, doc))

	web, err := h.rt.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.3.4"}, web.IPv4)
	assert.Empty(t, h.referencing("10.0.3.3"), h.table.Dump())
	for _, f := range h.portForwards() {
		if f.Owner == "web" {
			assert.Equal(t, "10.0.3.4", f.ContainerIP.String())
		}
	}
	rec, _, err := h.records.Get("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.3.4", "10.0.3.3"}, rec.KnownIPs())
	assert.Equal(t, "10.0.3.4", h.hostsEntries()["web"])
}

func TestAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	require.NoError(t, h.r.Up(ctx, webDoc(h.dir)))
	h.rt.Seed("unmanaged", lxd.StateRunning, "10.0.3.99")

	require.NoError(t, h.r.DownAll(ctx))
	for _, name := range []string{"db", "web"} {
		ct, err := h.rt.Get(ctx, name)
		require.NoError(t, err)
		assert.False(t, ct.Running())
	}
	unmanaged, err := h.rt.Get(ctx, "unmanaged")
	require.NoError(t, err)
	assert.True(t, unmanaged.Running())

	require.NoError(t, h.r.UpAll(ctx))
	web, err := h.rt.Get(ctx, "web")
	require.NoError(t, err)
	assert.True(t, web.Running())
	assert.Len(t, h.owned("web"), 5)

	require.NoError(t, h.r.DestroyAll(ctx))
	list, err := h.rt.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "unmanaged", list[0].Name)
	assert.Empty(t, h.owned("db"))
	assert.Empty(t, h.owned("web"))
	assert.Empty(t, h.hostsEntries())
}

func TestList(t *testing.T) {
	t.Parallel()
	h := newHarness(t.TempDir())
	ctx := testutil.TestContext(t)
	doc := webDoc(h.dir)
	require.NoError(t, h.r.Up(ctx, doc, "db"))
	h.rt.Seed("unmanaged", lxd.StateRunning, "")

	rows, err := h.r.List(ctx, doc)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, Status{Name: "db", State: lxd.StateRunning, IPv4: []string{"10.0.3.2"}, Ports: []int{5432}, Forwards: []int{5432}, InDocument: true, Managed: true}, rows[0])
	assert.Equal(t, Status{Name: "web", State: StateAbsent, InDocument: true}, rows[1])
}
