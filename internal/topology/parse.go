package topology

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/armadaproject/slurmcompose/internal/catalog"
	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

const configurationsKey = "configurations"

// RawEntry is one element of a topology document, after structural validation but before compilation.
type RawEntry struct {
	// Device name, possibly containing glob wildcards
	DeviceName string
	// Reference to a workload already in the catalog. Empty if InlineConfig is set.
	ScriptSpec string
	// Inline workload definition. Nil if ScriptSpec is set.
	InlineConfig    map[string]interface{}
	TargetInstances int
}

func (e RawEntry) String() string {
	workload := e.ScriptSpec
	if e.InlineConfig != nil {
		workload = "<inline>"
	}
	return fmt.Sprintf("%s-%s(%d)", e.DeviceName, workload, e.TargetInstances)
}

// Load reads and structurally validates a topology file.
func Load(path string) ([]RawEntry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading topology %s", path)
	}
	return Parse(path, content)
}

// Parse structurally validates a topology document. The document is either a mapping with a
// configurations key or a bare sequence of entries. All malformed entries are reported together.
func Parse(source string, content []byte) ([]RawEntry, error) {
	var raw interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, &clustererrors.ErrStructural{Source: source, Message: err.Error()}
	}
	items, err := entryList(source, catalog.Normalize(raw))
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	entries := make([]RawEntry, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("%s[%d]", configurationsKey, i)
		entry, err := parseEntry(item)
		if err != nil {
			result = multierror.Append(result, &clustererrors.ErrStructural{Source: source, Path: path, Message: err.Error()})
			continue
		}
		entries = append(entries, entry)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return entries, nil
}

func entryList(source string, doc interface{}) ([]interface{}, error) {
	switch t := doc.(type) {
	case []interface{}:
		return t, nil
	case map[string]interface{}:
		list, ok := t[configurationsKey]
		if !ok {
			return nil, &clustererrors.ErrStructural{Source: source, Message: "topology must contain 'configurations' key or be a list"}
		}
		if list == nil {
			return []interface{}{}, nil
		}
		items, ok := list.([]interface{})
		if !ok {
			return nil, &clustererrors.ErrStructural{Source: source, Path: configurationsKey, Message: "must be a list"}
		}
		return items, nil
	case nil:
		return []interface{}{}, nil
	default:
		return nil, &clustererrors.ErrStructural{Source: source, Message: "topology must contain 'configurations' key or be a list"}
	}
}

func parseEntry(item interface{}) (RawEntry, error) {
	fields, ok := item.(map[string]interface{})
	if !ok {
		return RawEntry{}, errors.New("entry must be a mapping")
	}
	entry := RawEntry{}

	device, ok := fields["device_name"].(string)
	if !ok || device == "" {
		return RawEntry{}, errors.New("device_name must be a non-empty string")
	}
	entry.DeviceName = device

	spec, hasSpec := fields["script_spec"]
	inline, hasInline := fields["inline_config"]
	switch {
	case hasSpec && hasInline:
		return RawEntry{}, errors.New("script_spec and inline_config are mutually exclusive")
	case hasSpec:
		name, ok := spec.(string)
		if !ok || name == "" {
			return RawEntry{}, errors.New("script_spec must be a non-empty string")
		}
		entry.ScriptSpec = name
	case hasInline:
		config, ok := inline.(map[string]interface{})
		if !ok {
			return RawEntry{}, errors.New("inline_config must be a mapping")
		}
		entry.InlineConfig = config
	default:
		return RawEntry{}, errors.New("one of script_spec or inline_config is required")
	}

	count, ok := fields["target_instances"].(int)
	if !ok {
		return RawEntry{}, errors.Errorf("target_instances must be an integer, got %v", fields["target_instances"])
	}
	if count < 0 {
		return RawEntry{}, errors.Errorf("target_instances must be >= 0, got %d", count)
	}
	entry.TargetInstances = count
	return entry, nil
}
