package slurmcompose

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/slurmcompose/internal/catalog"
	"github.com/armadaproject/slurmcompose/internal/events"
	"github.com/armadaproject/slurmcompose/internal/lifecycle"
	"github.com/armadaproject/slurmcompose/internal/metrics"
	"github.com/armadaproject/slurmcompose/internal/registry"
	"github.com/armadaproject/slurmcompose/internal/scheduler"
	"github.com/armadaproject/slurmcompose/internal/script"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose/configuration"
	"github.com/armadaproject/slurmcompose/internal/state"
	"github.com/armadaproject/slurmcompose/internal/topology"
)

const eventBufferSize = 256

// cluster holds the components shared by the commands that talk to the scheduler.
type cluster struct {
	catalog      *catalog.Catalog
	desired      *topology.Result
	discovery    *registry.Endpoint
	scheduler    scheduler.Client
	registry     *state.Registry
	events       *events.Broadcaster
	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	controller   *lifecycle.Controller
}

// newCluster assembles the components. With an empty topologyPath the desired state is empty,
// which is what destroy needs.
func (a *App) newCluster(topologyPath string) (*cluster, error) {
	c, err := a.loadCatalog()
	if err != nil {
		return nil, err
	}
	desired := &topology.Result{}
	if topologyPath != "" {
		if desired, err = compileTopology(topologyPath, c); err != nil {
			return nil, err
		}
	}
	discovery, err := a.discoveryEndpoint(c)
	if err != nil {
		return nil, err
	}
	generator, err := a.newGenerator(discovery)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	cl := &cluster{
		catalog:      c,
		desired:      desired,
		discovery:    discovery,
		scheduler:    a.schedulerClient(),
		registry:     a.stateRegistry(),
		events:       events.NewBroadcaster(eventBufferSize),
		promRegistry: promRegistry,
		metrics:      metrics.New(promRegistry),
	}
	cl.controller = lifecycle.NewController(c, generator, cl.scheduler, cl.registry, cl.events, cl.metrics, a.Clock)
	return cl, nil
}

func (cl *cluster) close() {
	cl.events.Close()
	if cl.discovery != nil {
		if err := cl.discovery.Close(); err != nil {
			log.WithError(err).Warn("Error closing registry client")
		}
	}
}

func (a *App) config() *configuration.SlurmComposeConfiguration {
	return a.Params.Config
}

// loadCatalog reads the device catalog and every configured workload spec.
func (a *App) loadCatalog() (*catalog.Catalog, error) {
	config := a.config()
	if config.Devices == "" {
		return nil, errors.New("devices must be set to the path of a device catalog")
	}
	devices, err := catalog.LoadDevices(config.Devices)
	if err != nil {
		return nil, err
	}

	var workloads []*catalog.WorkloadSpec
	names := maps.Keys(config.Workloads)
	slices.Sort(names)
	for _, name := range names {
		spec, err := catalog.LoadWorkload(name, config.Workloads[name])
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, spec)
	}
	for _, dir := range config.WorkloadDirs {
		specs, err := catalog.LoadWorkloadDir(dir)
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, specs...)
	}

	c, err := catalog.New(devices, workloads)
	if err != nil {
		return nil, err
	}
	log.Debugf("Loaded %d devices and %d workloads", len(c.DeviceNames()), len(c.WorkloadNames()))
	return c, nil
}

func compileTopology(path string, c *catalog.Catalog) (*topology.Result, error) {
	entries, err := topology.Load(path)
	if err != nil {
		return nil, err
	}
	return topology.Compile(entries, c)
}

// discoveryEndpoint returns the configured registry endpoint, or nil if the registry is disabled.
// The endpoint is written into every workload in c, so it must be called after the topology has
// registered its inline workloads.
func (a *App) discoveryEndpoint(c *catalog.Catalog) (*registry.Endpoint, error) {
	config := a.config().Registry
	if !config.Enabled {
		return nil, nil
	}
	endpoint, err := registry.NewEndpoint(registry.Config{
		Url:     config.Url,
		Enabled: config.Enabled,
		ArgName: config.ArgName,
		Timeout: a.config().Scheduler.Timeout,
	})
	if err != nil {
		return nil, err
	}
	endpoint.Inject(c, config.ArgName)
	return endpoint, nil
}

func (a *App) newGenerator(discovery *registry.Endpoint) (*script.Generator, error) {
	config := a.config()
	// Config keys are case-insensitive and arrive lower-cased; variables are referenced upper-case.
	metaArgs := make(map[string]interface{}, len(config.MetaArgs)+1)
	for name, value := range config.MetaArgs {
		metaArgs[strings.ToUpper(name)] = value
	}
	if discovery != nil {
		metaArgs[registry.MetaVariable] = discovery.Url()
	}
	return script.NewGenerator(script.Config{
		Account:   config.Account,
		CondaPath: config.CondaPath,
		CondaEnv:  config.CondaEnv,
		MetaArgs:  metaArgs,
	})
}

func (a *App) schedulerClient() scheduler.Client {
	if a.Scheduler != nil {
		return a.Scheduler
	}
	config := a.config()
	if config.Scheduler.Backend == configuration.BackendLocal {
		return scheduler.NewLocalClient(config.ScriptDir)
	}
	return scheduler.NewSlurmClient(scheduler.SlurmConfig{
		User:          config.User,
		ScriptDir:     config.ScriptDir,
		Timeout:       config.Scheduler.Timeout,
		HistoryWindow: config.Scheduler.HistoryWindow,
	}, scheduler.ExecRunner{})
}

func (a *App) stateRegistry() *state.Registry {
	if a.Store != nil {
		return state.NewRegistry(a.Store)
	}
	return state.NewRegistry(state.NewFileStore(state.FileStoreConfig{Path: a.config().StateFile}))
}
