package topology

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/slurmcompose/internal/catalog"
	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

const inlineNamePrefix = "inline_config_"

// DesiredEntry is one reconciliation unit: the number of jobs that should be running for a
// (device, workload) pair.
type DesiredEntry struct {
	Key         string
	Device      string
	Workload    string
	TargetCount int
}

func (e DesiredEntry) String() string {
	return fmt.Sprintf("%s(%d)", e.Key, e.TargetCount)
}

// IdentityKey returns the composite key identifying a (device, workload) pair.
func IdentityKey(device string, workload string) string {
	return device + ":" + workload
}

// Result is the output of a compilation.
type Result struct {
	Entries []DesiredEntry
	// Wildcard patterns that matched nothing; the corresponding entries were dropped.
	Warnings []*clustererrors.ErrExpansion
	// Names of inline workloads registered in the catalog, in topology order.
	Registered []string
}

// Keys returns the identity keys of all entries, in order.
func (r *Result) Keys() []string {
	keys := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		keys[i] = e.Key
	}
	return keys
}

type resolvedEntry struct {
	index    int
	raw      RawEntry
	workload string
	inline   *catalog.WorkloadSpec
}

// Compile turns validated topology entries into normalized desired entries:
//   - inline workload definitions are named and registered in the catalog
//   - wildcard device names are expanded against the catalog's devices
//   - entries for the same (device, workload) pair are merged by summing their counts
//
// Every reference is checked before the catalog is touched, so a structural error leaves the catalog unchanged.
// Given the same catalog contents the output is deterministic.
func Compile(entries []RawEntry, c *catalog.Catalog) (*Result, error) {
	resolved, err := resolve(entries, c)
	if err != nil {
		return nil, err
	}

	result := &Result{Entries: []DesiredEntry{}}
	registered := map[string]bool{}
	for _, r := range resolved {
		if r.inline == nil || registered[r.workload] {
			continue
		}
		if err := c.Register(r.inline); err != nil {
			return nil, err
		}
		registered[r.workload] = true
		result.Registered = append(result.Registered, r.workload)
		log.WithField("device", r.raw.DeviceName).Infof("Registered inline workload %s", r.workload)
	}

	index := map[string]int{}
	for _, r := range resolved {
		devices := []string{r.raw.DeviceName}
		if catalog.IsPattern(r.raw.DeviceName) {
			devices, err = c.MatchDevices(r.raw.DeviceName)
			if err != nil {
				return nil, &clustererrors.ErrStructural{Source: "topology", Message: err.Error()}
			}
			if len(devices) == 0 {
				warning := &clustererrors.ErrExpansion{Pattern: r.raw.DeviceName, Workload: r.workload}
				log.Warn(warning.Error())
				result.Warnings = append(result.Warnings, warning)
				continue
			}
			log.Infof("Expanded %q to %v", r.raw.DeviceName, devices)
		}
		for _, device := range devices {
			key := IdentityKey(device, r.workload)
			if i, ok := index[key]; ok {
				result.Entries[i].TargetCount += r.raw.TargetInstances
				continue
			}
			index[key] = len(result.Entries)
			result.Entries = append(result.Entries, DesiredEntry{
				Key:         key,
				Device:      device,
				Workload:    r.workload,
				TargetCount: r.raw.TargetInstances,
			})
		}
	}
	return result, nil
}

// resolve names every entry's workload and checks all references without mutating the catalog.
func resolve(entries []RawEntry, c *catalog.Catalog) ([]resolvedEntry, error) {
	var result *multierror.Error
	structural := func(i int, format string, args ...interface{}) {
		result = multierror.Append(result, &clustererrors.ErrStructural{
			Source:  "topology",
			Path:    fmt.Sprintf("%s[%d]", configurationsKey, i),
			Message: fmt.Sprintf(format, args...),
		})
	}

	inlineCounter := 0
	inlineSpecs := map[string]*catalog.WorkloadSpec{}
	resolved := make([]resolvedEntry, 0, len(entries))
	for i, e := range entries {
		r := resolvedEntry{index: i, raw: e, workload: e.ScriptSpec}

		if e.InlineConfig != nil {
			inlineCounter++
			name := fmt.Sprintf("%s%d", inlineNamePrefix, inlineCounter)
			if explicit, ok := e.InlineConfig["name"].(string); ok && explicit != "" {
				name = explicit
			}
			spec, err := catalog.DecodeWorkload(name, e.InlineConfig)
			if err != nil {
				structural(i, "invalid inline_config: %s", err)
				continue
			}
			if previous, ok := inlineSpecs[name]; ok && !previous.Equal(spec) {
				structural(i, "inline workload %s is defined more than once with different contents", name)
				continue
			}
			if existing, err := c.Workload(name); err == nil && !existing.Equal(spec) {
				structural(i, "inline workload %s conflicts with an existing workload of the same name", name)
				continue
			}
			inlineSpecs[name] = spec
			r.workload = name
			r.inline = spec
		}

		if catalog.IsPattern(e.DeviceName) {
			if _, err := c.MatchDevices(e.DeviceName); err != nil {
				structural(i, "%s", err)
				continue
			}
		} else if !c.HasDevice(e.DeviceName) {
			structural(i, "unknown device %s", e.DeviceName)
			continue
		}
		resolved = append(resolved, r)
	}

	// Script specs may reference inline workloads defined anywhere in the same topology.
	for _, r := range resolved {
		if r.inline != nil {
			continue
		}
		if _, ok := inlineSpecs[r.workload]; !ok && !c.HasWorkload(r.workload) {
			structural(r.index, "unknown workload %s", r.workload)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return resolved, nil
}
