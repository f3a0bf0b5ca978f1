package catalog

import (
	"fmt"
	"reflect"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	DeviceTypeGpu = "gpu"
	DeviceTypeCpu = "cpu"
)

// DeviceSpec describes a class of machine that jobs can be submitted to.
type DeviceSpec struct {
	Name        string `mapstructure:"-"`
	Type        string `mapstructure:"type"`
	GpuType     string `mapstructure:"gpu_type"`
	DeviceCount int    `mapstructure:"device_count"`
	Cpus        int    `mapstructure:"cpus"`
	MemGb       int    `mapstructure:"mem"`
	Hours       int    `mapstructure:"hours"`
	// Optional overrides of the partition and qos derived from the device type.
	Partition string `mapstructure:"partition"`
	Qos       string `mapstructure:"qos"`
	// Attributes not recognised above, kept for script templates.
	Extra map[string]interface{} `mapstructure:",remain"`
}

func (d *DeviceSpec) DeepCopy() *DeviceSpec {
	if d == nil {
		return nil
	}
	c := *d
	c.Extra = copyMap(d.Extra)
	return &c
}

// WorkloadSpec is a named job template. The recognised fields are declared explicitly; anything
// else in the source document lands in Extra.
type WorkloadSpec struct {
	Name string `mapstructure:"name"`
	// Python module run by the job, e.g. "literegistry.vllm"
	ScriptType string `mapstructure:"script_type"`
	// Command line arguments. String values of the form ${VAR} are substituted at generation time.
	Args map[string]interface{} `mapstructure:"args"`
	// Extra environment variables exported before the command runs.
	Env map[string]string `mapstructure:"env"`
	// Scheduler directives overriding the device defaults, e.g. {"time": "2:00:00"}.
	Slurm map[string]interface{} `mapstructure:"slurm"`
	Extra map[string]interface{} `mapstructure:",remain"`
}

func (w *WorkloadSpec) DeepCopy() *WorkloadSpec {
	if w == nil {
		return nil
	}
	c := *w
	c.Args = copyMap(w.Args)
	c.Slurm = copyMap(w.Slurm)
	c.Extra = copyMap(w.Extra)
	if w.Env != nil {
		c.Env = maps.Clone(w.Env)
	}
	return &c
}

// Equal reports whether two specs define the same template.
func (w *WorkloadSpec) Equal(other *WorkloadSpec) bool {
	return reflect.DeepEqual(w, other)
}

// SortedArgNames returns the argument names in lexical order, which is the order they appear on the command line.
func (w *WorkloadSpec) SortedArgNames() []string {
	names := maps.Keys(w.Args)
	slices.Sort(names)
	return names
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = copyValue(v)
	}
	return result
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		result := make([]interface{}, len(t))
		for i, item := range t {
			result[i] = copyValue(item)
		}
		return result
	default:
		return v
	}
}

// Normalize converts the map[interface{}]interface{} values produced by yaml.v2 into
// map[string]interface{} recursively so that documents can be decoded and compared.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(t))
		for k, item := range t {
			result[fmt.Sprint(k)] = Normalize(item)
		}
		return result
	case map[string]interface{}:
		result := make(map[string]interface{}, len(t))
		for k, item := range t {
			result[k] = Normalize(item)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(t))
		for i, item := range t {
			result[i] = Normalize(item)
		}
		return result
	default:
		return v
	}
}
