// Package registry hands the service-discovery registry endpoint to jobs and checks that it is
// reachable. The registry's own protocol is the jobs' business.
package registry

import (
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/slurmcompose/internal/catalog"
)

const (
	DefaultArgName = "registry"
	// Variable under which the endpoint is available for ${VAR} substitution in workload arguments
	MetaVariable = "REGISTRY"
)

type Config struct {
	Url     string
	Enabled bool
	// Workload argument the endpoint is written to
	ArgName string
	Timeout time.Duration
}

type Endpoint struct {
	url    string
	client *redis.Client
}

// NewEndpoint parses a redis:// url. No connection is made until Check.
func NewEndpoint(config Config) (*Endpoint, error) {
	options, err := redis.ParseURL(config.Url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid registry url %q", config.Url)
	}
	if config.Timeout > 0 {
		options.DialTimeout = config.Timeout
		options.ReadTimeout = config.Timeout
		options.WriteTimeout = config.Timeout
	}
	options.MaxRetries = 0
	return &Endpoint{url: config.Url, client: redis.NewClient(options)}, nil
}

func (e *Endpoint) Url() string {
	return e.url
}

// Check pings the registry.
func (e *Endpoint) Check() error {
	if err := e.client.Ping().Err(); err != nil {
		return errors.Wrapf(err, "registry %s is unreachable", e.url)
	}
	return nil
}

func (e *Endpoint) Close() error {
	return e.client.Close()
}

// Inject sets argName to the endpoint url on every workload in the catalog.
func (e *Endpoint) Inject(c *catalog.Catalog, argName string) {
	if argName == "" {
		argName = DefaultArgName
	}
	c.SetArg(argName, e.url)
	log.WithField("arg", argName).Infof("Injected registry endpoint %s into %d workloads", e.url, len(c.WorkloadNames()))
}

// Monitor remembers the result of the most recent reachability check, so health endpoints do not
// have to wait on the network.
type Monitor struct {
	endpoint *Endpoint
	mutex    sync.Mutex
	lastErr  error
}

func NewMonitor(endpoint *Endpoint) *Monitor {
	return &Monitor{endpoint: endpoint, lastErr: errors.Errorf("registry %s has not been checked yet", endpoint.Url())}
}

// Probe checks the registry and records the result. Failures are logged, not returned; jobs keep
// running when the registry is down.
func (m *Monitor) Probe() {
	err := m.endpoint.Check()
	m.mutex.Lock()
	recovered := err == nil && m.lastErr != nil
	m.lastErr = err
	m.mutex.Unlock()
	if err != nil {
		log.WithError(err).Warn("Registry check failed")
	} else if recovered {
		log.Infof("Registry %s is reachable", m.endpoint.Url())
	}
}

func (m *Monitor) Check() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.lastErr
}
