package lifecycle

import (
	"context"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/hosts"
	"github.com/imamik/lxc-compose/internal/network"
	"github.com/imamik/lxc-compose/internal/packages"
	"github.com/imamik/lxc-compose/internal/platform/iptables"
	"github.com/imamik/lxc-compose/internal/state"
	testutil "github.com/imamik/lxc-compose/internal/testing"
	"github.com/imamik/lxc-compose/internal/util/retry"
)

// harness wires a Reconciler to in-memory fakes rooted at dir.
type harness struct {
	dir      string
	rt       *testutil.FakeRuntime
	table    *testutil.MemTable
	store    *testutil.MemStore
	records  *state.Store
	shared   *hosts.File
	network  *network.Reconciler
	observer *testutil.RecordingObserver
	settings *config.Settings
	r        *Reconciler
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(dir string) *harness {
	h := &harness{
		dir:      dir,
		rt:       testutil.NewFakeRuntime(),
		table:    testutil.NewMemTable(),
		store:    testutil.NewAlpineStore(),
		observer: testutil.NewRecordingObserver(),
		settings: &config.Settings{
			StateDir:    dir,
			SharedHosts: filepath.Join(dir, "hosts"),
			Subnet:      config.DefaultSubnet,
			Runtime:     config.DefaultRuntime,
			Timeouts: config.Timeouts{
				Start:   5 * time.Second,
				Network: time.Second,
				Exec:    time.Minute,
			},
		},
	}
	h.records = state.NewStore(h.settings.StatePath())
	h.shared = hosts.NewShared(h.settings.SharedHosts)
	h.network = network.NewReconciler(h.table, h.records, h.observer, nil)

	r, err := NewReconciler(Deps{
		Runtime:  h.rt,
		Store:    h.store,
		Records:  h.records,
		Hosts:    h.shared,
		Network:  h.network,
		Settings: h.settings,
		Observer: h.observer,
		Packages: packages.NewInstaller(h.rt, packages.DefaultPolicy(),
			packages.WithClock(testutil.NewFakeClock()), packages.WithObserver(h.observer)),
		WaitOptions: []retry.Option{retry.WithSleep(noSleep), retry.WithMaxRetries(3)},
	})
	if err != nil {
		panic(err)
	}
	h.r = r
	return h
}

// owned returns the live rules tagged for container.
func (h *harness) owned(container string) []iptables.Rule {
	s, err := h.network.State(context.Background())
	if err != nil {
		panic(err)
	}
	return s.Owned(container)
}

// referencing returns the live rules mentioning ip.
func (h *harness) referencing(ip string) []iptables.Rule {
	s, err := h.network.State(context.Background())
	if err != nil {
		panic(err)
	}
	return s.Referencing(netip.MustParseAddr(ip))
}

// portForwards returns the live DNAT rules.
func (h *harness) portForwards() []network.PortForwardRule {
	s, err := h.network.State(context.Background())
	if err != nil {
		panic(err)
	}
	return s.PortForwards()
}

// hostsEntries returns the managed section of the shared hosts file.
func (h *harness) hostsEntries() map[string]string {
	entries, err := h.shared.Entries()
	if err != nil {
		panic(err)
	}
	return entries
}

// count returns how often "op name" appears in the runtime log.
func (h *harness) count(op, name string) int {
	n := 0
	for _, l := range h.rt.Log {
		if l == op+" "+name {
			n++
		}
	}
	return n
}

// redisDoc is a container built from the alpine template with the redis
// library include.
func redisDoc(dir string) *config.Document {
	return testutil.NewDocumentBuilder().
		WithDir(dir).
		WithContainer(config.ContainerSpec{
			Name:         "redis",
			Template:     "alpine-3.19",
			Includes:     config.StringList{"redis"},
			ExposedPorts: config.PortList{6379},
		}).
		Build()
}

// webDoc is db plus web depending on it, each exposing one port.
func webDoc(dir string) *config.Document {
	return testutil.NewDocumentBuilder().
		WithDir(dir).
		WithContainer(config.ContainerSpec{Name: "db", Image: "images:alpine/3.19", ExposedPorts: config.PortList{5432}}).
		WithContainer(config.ContainerSpec{Name: "web", Image: "images:alpine/3.19", ExposedPorts: config.PortList{80}, DependsOn: config.StringList{"db"}}).
		Build()
}
