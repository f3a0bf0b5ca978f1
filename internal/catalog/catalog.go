package catalog

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

// Catalog holds the known device types and workload specs.
// Devices are fixed at construction; workloads may be added at runtime but never silently replaced.
type Catalog struct {
	devices   map[string]*DeviceSpec
	workloads map[string]*WorkloadSpec
	lock      sync.RWMutex
}

func New(devices []*DeviceSpec, workloads []*WorkloadSpec) (*Catalog, error) {
	c := &Catalog{
		devices:   make(map[string]*DeviceSpec, len(devices)),
		workloads: make(map[string]*WorkloadSpec, len(workloads)),
	}
	for _, d := range devices {
		if _, exists := c.devices[d.Name]; exists {
			return nil, &clustererrors.ErrAlreadyExists{Type: "device", Value: d.Name}
		}
		c.devices[d.Name] = d.DeepCopy()
	}
	for _, w := range workloads {
		if err := c.Register(w); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Device(name string) (*DeviceSpec, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	d, ok := c.devices[name]
	if !ok {
		return nil, &clustererrors.ErrNotFound{Type: "device", Value: name}
	}
	return d.DeepCopy(), nil
}

func (c *Catalog) Workload(name string) (*WorkloadSpec, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	w, ok := c.workloads[name]
	if !ok {
		return nil, &clustererrors.ErrNotFound{Type: "workload", Value: name}
	}
	return w.DeepCopy(), nil
}

func (c *Catalog) HasDevice(name string) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	_, ok := c.devices[name]
	return ok
}

func (c *Catalog) HasWorkload(name string) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	_, ok := c.workloads[name]
	return ok
}

// DeviceNames returns all device names in lexical order.
func (c *Catalog) DeviceNames() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	names := maps.Keys(c.devices)
	slices.Sort(names)
	return names
}

// WorkloadNames returns all workload names in lexical order.
func (c *Catalog) WorkloadNames() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	names := maps.Keys(c.workloads)
	slices.Sort(names)
	return names
}

// IsPattern reports whether a device name contains glob wildcards.
func IsPattern(name string) bool {
	return strings.ContainsAny(name, "*?[")
}

// MatchDevices returns, in lexical order, the names of all devices matching the glob pattern.
func (c *Catalog) MatchDevices(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid device pattern %q", pattern)
	}
	matches := []string{}
	for _, name := range c.DeviceNames() {
		if g.Match(name) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// Register adds a workload spec. Registering a spec identical to an existing one is a no-op, so that
// inline specs re-resolve to the same name across restarts; registering a different spec under an
// existing name fails.
func (c *Catalog) Register(spec *WorkloadSpec) error {
	if spec == nil || spec.Name == "" {
		return &clustererrors.ErrInvalidArgument{Name: "name", Value: "", Message: "workload spec must be named"}
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if existing, ok := c.workloads[spec.Name]; ok {
		if existing.Equal(spec) {
			return nil
		}
		return &clustererrors.ErrAlreadyExists{
			Type:    "workload",
			Value:   spec.Name,
			Message: "a different definition is already registered under this name",
		}
	}
	c.workloads[spec.Name] = spec.DeepCopy()
	return nil
}

// Replace registers a workload spec, overwriting any existing spec with the same name.
func (c *Catalog) Replace(spec *WorkloadSpec) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.workloads[spec.Name]; ok {
		log.Debugf("Replacing workload spec %s", spec.Name)
	}
	c.workloads[spec.Name] = spec.DeepCopy()
}

// SetArg sets the argument name to value on every registered workload. This is how the registry
// endpoint is handed to jobs.
func (c *Catalog) SetArg(name string, value interface{}) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, w := range c.workloads {
		if w.Args == nil {
			w.Args = map[string]interface{}{}
		}
		w.Args[name] = value
	}
}
