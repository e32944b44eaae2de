package testrunner

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/lxc-compose/internal/compose"
	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/network"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	testutil "github.com/imamik/lxc-compose/internal/testing"
)

// hostCall is one host script invocation.
type hostCall struct {
	env    map[string]string
	script string
	body   string
}

// fakeHost runs host scripts by looking up an exit code per script body.
type fakeHost struct {
	calls []hostCall
	exit  map[string]int
	err   error
}

func (f *fakeHost) Run(_ context.Context, binary string, cmd lxd.Command) (lxd.ExecResult, error) {
	if f.err != nil {
		return lxd.ExecResult{}, f.err
	}
	call := hostCall{env: map[string]string{}}
	for i, arg := range cmd.Args {
		if arg == "sh" && binary == "env" {
			call.script = cmd.Args[i+1]
			break
		}
		k, v, _ := strings.Cut(arg, "=")
		call.env[k] = v
	}
	data, _ := os.ReadFile(call.script)
	call.body = string(data)
	f.calls = append(f.calls, call)
	return lxd.ExecResult{ExitCode: f.exit[call.body]}, nil
}

func redis() *compose.Merged {
	return &compose.Merged{
		Name:         "redis",
		OS:           "alpine",
		Version:      "3.19",
		ExposedPorts: []int{6379},
		Environment:  map[string]string{"REDIS_PORT": "6379"},
		Tests: map[config.TestKind][]config.TestEntry{
			config.TestInternal: {
				{Name: "ping", Path: "tests/ping.sh", Source: "redis", LibraryPath: "services/alpine/3.19/redis"},
			},
		},
	}
}

type fixture struct {
	dir      string
	rt       *testutil.FakeRuntime
	store    *testutil.MemStore
	table    *testutil.MemTable
	host     *fakeHost
	observer *testutil.RecordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:      t.TempDir(),
		rt:       testutil.NewFakeRuntime(),
		store:    testutil.NewAlpineStore(),
		table:    testutil.NewMemTable(),
		host:     &fakeHost{exit: map[string]int{}},
		observer: testutil.NewRecordingObserver(),
	}
	f.rt.Seed("redis", lxd.StateRunning, "10.0.3.2")
	return f
}

func (f *fixture) runner(opts ...Option) *Runner {
	opts = append([]Option{WithHostRunner(f.host), WithObserver(f.observer)}, opts...)
	return New(f.rt, f.store, f.dir, opts...)
}

func (f *fixture) network() *network.Reconciler {
	return network.NewReconciler(f.table, nil, f.observer, nil)
}

func TestPlan(t *testing.T) {
	t.Parallel()
	m := &compose.Merged{Tests: map[config.TestKind][]config.TestEntry{
		config.TestPortForwarding: {{Name: "pf"}},
		config.TestExternal:       {{Name: "ext"}},
		config.TestInternal:       {{Name: "a"}, {Name: "b"}},
	}}

	tests := []struct {
		name  string
		kinds []config.TestKind
		want  []string
	}{
		{"all", nil, []string{"a", "b", "ext", "pf"}},
		{"internal", []config.TestKind{config.TestInternal}, []string{"a", "b"}},
		{"host side", []config.TestKind{config.TestPortForwarding, config.TestExternal}, []string{"ext", "pf"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, p := range Plan(m, tt.kinds...) {
				got = append(got, p.Entry.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_InternalLibraryScript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{redis()})

	require.NoError(t, sum.Err())
	assert.Equal(t, 1, sum.Containers)
	assert.Equal(t, 1, sum.Passed())
	assert.Equal(t, "redis-cli ping\n", f.rt.Files["redis:/tmp/lxc-compose-tests/ping.sh"])
	assert.Equal(t, []string{"sh /tmp/lxc-compose-tests/ping.sh"}, f.rt.Commands("redis"))
}

func TestRun_InternalFailureKeepsGoing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.rt.Seed("web", lxd.StateRunning, "10.0.3.3")
	testutil.WriteFile(t, f.dir, "tests/health.sh", "exit 0\n")
	f.rt.ExecFunc = func(h lxd.Handle, _ lxd.ExecOptions) (lxd.ExecResult, error) {
		if h.Name == "redis" {
			return lxd.ExecResult{ExitCode: 3}, nil
		}
		return lxd.ExecResult{}, nil
	}
	web := &compose.Merged{Name: "web", Tests: map[config.TestKind][]config.TestEntry{
		config.TestInternal: {{Name: "health", Path: "tests/health.sh", Source: compose.SourceLocal}},
	}}

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{redis(), web})

	assert.Equal(t, 2, sum.Containers)
	assert.Equal(t, 1, sum.Passed())
	assert.Equal(t, 1, sum.Failed())
	failures := sum.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "redis", failures[0].Container)
	assert.Equal(t, 3, failures[0].ExitCode)
	assert.EqualError(t, failures[0], "internal test redis/ping exited with status 3")
	assert.Equal(t, "exit 0\n", f.rt.Files["web:/tmp/lxc-compose-tests/health.sh"])
}

func TestRun_InternalAbsolutePathRunsInPlace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := &compose.Merged{Name: "redis", Tests: map[config.TestKind][]config.TestEntry{
		config.TestInternal: {{Name: "check", Path: "/app/tests/check.sh"}},
	}}

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{m})

	require.NoError(t, sum.Err())
	assert.Empty(t, f.rt.Files)
	assert.Equal(t, []string{"sh /app/tests/check.sh"}, f.rt.Commands("redis"))
}

func TestRun_ExternalLocalScript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	testutil.WriteFile(t, f.dir, "tests/curl.sh", "curl http://$CONTAINER_IP\n")
	m := redis()
	m.Tests = map[config.TestKind][]config.TestEntry{
		config.TestExternal: {{Name: "curl", Path: "/app/tests/curl.sh", Source: compose.SourceLocal}},
	}

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{m}, config.TestExternal)

	require.NoError(t, sum.Err())
	require.Len(t, f.host.calls, 1)
	call := f.host.calls[0]
	assert.Equal(t, "curl http://$CONTAINER_IP\n", call.body)
	assert.Equal(t, "10.0.3.2", call.env["CONTAINER_IP"])
	assert.Equal(t, "redis", call.env["CONTAINER_NAME"])
	assert.Equal(t, "6379", call.env["REDIS_PORT"])
}

func TestRun_ExternalLibraryScriptUsesTempFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.AddScript("services/alpine/3.19/redis/tests/remote.sh", "redis-cli -h $CONTAINER_IP ping\n")
	f.host.exit["redis-cli -h $CONTAINER_IP ping\n"] = 1
	m := redis()
	m.Tests = map[config.TestKind][]config.TestEntry{
		config.TestExternal: {{Name: "remote", Path: "/tests/remote.sh", Source: "redis", LibraryPath: "services/alpine/3.19/redis"}},
	}

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{m})

	require.Len(t, f.host.calls, 1)
	assert.Equal(t, 1, sum.Failed())
	assert.Equal(t, 1, sum.Failures()[0].ExitCode)
	_, err := os.Stat(f.host.calls[0].script)
	assert.True(t, os.IsNotExist(err), "temp script should be removed")
}

func TestRun_MissingScript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := redis()
	m.Tests = map[config.TestKind][]config.TestEntry{
		config.TestExternal: {{Name: "gone", Path: "tests/gone.sh"}},
		config.TestInternal: {{Name: "lost", Path: "tests/lost.sh", LibraryPath: "services/alpine/3.19/redis"}},
	}

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{m})

	require.Equal(t, 2, sum.Failed())
	for _, failure := range sum.Failures() {
		assert.Equal(t, -1, failure.ExitCode)
		assert.Error(t, failure.Err)
	}
	assert.Contains(t, sum.Failures()[1].Error(), "test script not found")
	assert.Empty(t, f.host.calls)
}

func TestRun_PortForwardingChecksRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	nw := f.network()
	ctx := testutil.TestContext(t)
	require.NoError(t, nw.Reconcile(ctx, "redis", netip.MustParseAddr("10.0.3.2"), []int{6379}))
	m := redis()
	m.Tests = nil

	sum := f.runner(WithNetwork(nw)).Run(ctx, []*compose.Merged{m}, config.TestPortForwarding)

	require.NoError(t, sum.Err())
	require.Len(t, sum.Results, 1)
	assert.Equal(t, RulesCheck, sum.Results[0].Name)
	assert.Equal(t, config.TestPortForwarding, sum.Results[0].Kind)
}

func TestRun_PortForwardingMissingRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	testutil.WriteFile(t, f.dir, "tests/pf.sh", "nc -z localhost 6379\n")
	m := redis()
	m.Tests = map[config.TestKind][]config.TestEntry{
		config.TestPortForwarding: {{Name: "pf", Path: "tests/pf.sh"}},
	}

	sum := f.runner(WithNetwork(f.network())).Run(testutil.TestContext(t), []*compose.Merged{m})

	require.Len(t, sum.Results, 2)
	assert.Equal(t, RulesCheck, sum.Results[0].Name)
	assert.False(t, sum.Results[0].Passed)
	assert.Contains(t, sum.Results[0].Err.Error(), "5 of 5 firewall rules missing")
	assert.True(t, sum.Results[1].Passed)
}

func TestRun_PortForwardingStaleRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	nw := f.network()
	ctx := testutil.TestContext(t)
	require.NoError(t, nw.Reconcile(ctx, "redis", netip.MustParseAddr("10.0.3.2"), []int{6379, 6380}))
	m := redis()
	m.Tests = nil

	sum := f.runner(WithNetwork(nw)).Run(ctx, []*compose.Merged{m}, config.TestPortForwarding)

	require.Len(t, sum.Results, 1)
	assert.False(t, sum.Results[0].Passed)
	assert.Contains(t, sum.Results[0].Err.Error(), "2 stale firewall rules")
	assert.NotContains(t, sum.Results[0].Err.Error(), "missing")
}

func TestRun_StoppedContainerFailsItsTests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.rt.Seed("redis", lxd.StateStopped, "")

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{redis()})

	require.Equal(t, 1, sum.Failed())
	assert.Contains(t, sum.Failures()[0].Error(), "container is stopped")
	assert.Empty(t, f.rt.Commands("redis"))
}

func TestRun_NoTests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := redis()
	m.Tests = nil

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{m})

	assert.Zero(t, sum.Containers)
	assert.NoError(t, sum.Err())
	assert.Len(t, f.observer.EventsOfType(provisioning.EventWarning), 1)
}

func TestRun_HostRunnerError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.host.err = errors.New("exec: env not found")
	testutil.WriteFile(t, f.dir, "tests/ext.sh", "true\n")
	m := redis()
	m.Tests = map[config.TestKind][]config.TestEntry{
		config.TestExternal: {{Name: "ext", Path: "tests/ext.sh"}},
	}

	sum := f.runner().Run(testutil.TestContext(t), []*compose.Merged{m})

	require.Equal(t, 1, sum.Failed())
	assert.ErrorIs(t, sum.Err(), f.host.err)
}

func TestLocalPath(t *testing.T) {
	t.Parallel()
	r := New(nil, nil, "/srv/project")

	assert.Equal(t, "/srv/project/tests/a.sh", r.localPath("/app/tests/a.sh"))
	assert.Equal(t, "/srv/project/tests/a.sh", r.localPath("tests/a.sh"))
	assert.Equal(t, "/opt/checks/a.sh", r.localPath("/opt/checks/a.sh"))
}
