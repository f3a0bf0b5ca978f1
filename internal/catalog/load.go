package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

// LoadDevices reads a device catalog file: a mapping from device name to device attributes.
func LoadDevices(path string) ([]*DeviceSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading device catalog %s", path)
	}
	return ParseDevices(path, content)
}

// ParseDevices parses the content of a device catalog. Source is used in error messages only.
func ParseDevices(source string, content []byte) ([]*DeviceSpec, error) {
	var raw interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, &clustererrors.ErrStructural{Source: source, Message: err.Error()}
	}
	doc, ok := Normalize(raw).(map[string]interface{})
	if !ok {
		return nil, &clustererrors.ErrStructural{Source: source, Message: "device catalog must be a mapping from device name to attributes"}
	}

	names := maps.Keys(doc)
	slices.Sort(names)
	var result *multierror.Error
	devices := make([]*DeviceSpec, 0, len(names))
	for _, name := range names {
		attributes, ok := doc[name].(map[string]interface{})
		if !ok {
			result = multierror.Append(result, &clustererrors.ErrStructural{Source: source, Path: name, Message: "device attributes must be a mapping"})
			continue
		}
		device := &DeviceSpec{Name: name}
		if err := decode(attributes, device); err != nil {
			result = multierror.Append(result, &clustererrors.ErrStructural{Source: source, Path: name, Message: err.Error()})
			continue
		}
		if err := validateDevice(device); err != nil {
			result = multierror.Append(result, &clustererrors.ErrStructural{Source: source, Path: name, Message: err.Error()})
			continue
		}
		devices = append(devices, device)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return devices, nil
}

func validateDevice(d *DeviceSpec) error {
	var result *multierror.Error
	switch d.Type {
	case DeviceTypeGpu:
		if d.DeviceCount <= 0 {
			result = multierror.Append(result, errors.New("gpu devices must set device_count"))
		}
		if d.GpuType == "" && d.Partition == "" {
			result = multierror.Append(result, errors.New("gpu devices must set gpu_type or partition"))
		}
	case DeviceTypeCpu:
	default:
		result = multierror.Append(result, errors.Errorf("unknown device type %q; expected %q or %q", d.Type, DeviceTypeGpu, DeviceTypeCpu))
	}
	if d.Cpus <= 0 {
		result = multierror.Append(result, errors.New("cpus must be greater than zero"))
	}
	if d.MemGb <= 0 {
		result = multierror.Append(result, errors.New("mem must be greater than zero"))
	}
	if d.Hours <= 0 {
		result = multierror.Append(result, errors.New("hours must be greater than zero"))
	}
	return result.ErrorOrNil()
}

// LoadWorkload reads a single workload spec file and names it name.
func LoadWorkload(name string, path string) (*WorkloadSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading workload spec %s", path)
	}
	var raw interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, &clustererrors.ErrStructural{Source: path, Message: err.Error()}
	}
	doc, ok := Normalize(raw).(map[string]interface{})
	if !ok {
		return nil, &clustererrors.ErrStructural{Source: path, Message: "workload spec must be a mapping"}
	}
	spec, err := DecodeWorkload(name, doc)
	if err != nil {
		return nil, &clustererrors.ErrStructural{Source: path, Message: err.Error()}
	}
	return spec, nil
}

// LoadWorkloadDir returns all workload specs present in yaml files in dir. The file name without
// extension is used as the workload name.
func LoadWorkloadDir(dir string) ([]*WorkloadSpec, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	var results []*WorkloadSpec
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		spec, err := LoadWorkload(name, file)
		if err != nil {
			return nil, err
		}
		results = append(results, spec)
	}
	return results, nil
}

// DecodeWorkload converts a generic document into a WorkloadSpec. The explicit name argument takes
// precedence over any name field in the document.
func DecodeWorkload(name string, doc map[string]interface{}) (*WorkloadSpec, error) {
	spec := &WorkloadSpec{}
	if err := decode(doc, spec); err != nil {
		return nil, err
	}
	if name != "" {
		spec.Name = name
	}
	if spec.Name == "" {
		return nil, errors.New("workload spec has no name")
	}
	if spec.ScriptType == "" {
		return nil, errors.Errorf("workload spec %s must set script_type", spec.Name)
	}
	if spec.Args == nil {
		spec.Args = map[string]interface{}{}
	}
	return spec, nil
}

func decode(input map[string]interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
