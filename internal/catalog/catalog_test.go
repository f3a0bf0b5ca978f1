package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

const machinesYaml = `
a40-4:
  type: gpu
  gpu_type: a40
  device_count: 4
  cpus: 16
  mem: 128
  hours: 24
a40-8:
  type: gpu
  gpu_type: a40
  device_count: 8
  cpus: 32
  mem: 256
  hours: 24
l40-4:
  type: gpu
  gpu_type: l40
  device_count: 4
  cpus: 16
  mem: "128"
  hours: 24
l40s-4:
  type: gpu
  gpu_type: l40s
  device_count: 4
  cpus: 16
  mem: 128
  hours: 24
  constraint: ib
cpu-small:
  type: cpu
  cpus: 4
  mem: 16
  hours: 8
`

func testDevices(t *testing.T) []*DeviceSpec {
	devices, err := ParseDevices("machines.yaml", []byte(machinesYaml))
	require.NoError(t, err)
	return devices
}

func TestParseDevices(t *testing.T) {
	devices := testDevices(t)
	require.Len(t, devices, 5)

	byName := map[string]*DeviceSpec{}
	for _, d := range devices {
		byName[d.Name] = d
	}
	assert.Equal(t, DeviceTypeGpu, byName["l40-4"].Type)
	assert.Equal(t, 128, byName["l40-4"].MemGb)
	assert.Equal(t, 4, byName["l40-4"].DeviceCount)
	assert.Equal(t, "ib", byName["l40s-4"].Extra["constraint"])
	assert.Equal(t, DeviceTypeCpu, byName["cpu-small"].Type)
}

func TestParseDevices_Malformed(t *testing.T) {
	tests := map[string]string{
		"not a mapping":       "- a40-4\n- l40-4\n",
		"attributes not map":  "a40-4: 12\n",
		"unknown type":        "a40-4: {type: tpu, cpus: 1, mem: 1, hours: 1}\n",
		"gpu without count":   "a40-4: {type: gpu, gpu_type: a40, cpus: 1, mem: 1, hours: 1}\n",
		"missing hours":       "c: {type: cpu, cpus: 1, mem: 1}\n",
		"invalid yaml syntax": "a40-4: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDevices("machines.yaml", []byte(content))
			require.Error(t, err)
			assert.True(t, clustererrors.IsStructural(err), "expected structural error, got %v", err)
		})
	}
}

func TestMatchDevices(t *testing.T) {
	c, err := New(testDevices(t), nil)
	require.NoError(t, err)

	tests := map[string]struct {
		pattern string
		want    []string
	}{
		"suffix":        {"*-4", []string{"a40-4", "l40-4", "l40s-4"}},
		"prefix":        {"a40-*", []string{"a40-4", "a40-8"}},
		"infix":         {"l40*-4", []string{"l40-4", "l40s-4"}},
		"single char":   {"l40?-4", []string{"l40s-4"}},
		"no match":      {"h100-*", []string{}},
		"exact literal": {"cpu-small", []string{"cpu-small"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := c.MatchDevices(tc.pattern)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsPattern(t *testing.T) {
	assert.True(t, IsPattern("*-4"))
	assert.True(t, IsPattern("l40?-8"))
	assert.False(t, IsPattern("l40-8"))
}

func TestRegister(t *testing.T) {
	c, err := New(testDevices(t), nil)
	require.NoError(t, err)

	spec := &WorkloadSpec{Name: "llama8b", ScriptType: "serve.vllm", Args: map[string]interface{}{"model": "llama"}}
	require.NoError(t, c.Register(spec))

	// Identical re-registration is tolerated
	require.NoError(t, c.Register(spec.DeepCopy()))

	// A different definition under the same name is rejected
	other := spec.DeepCopy()
	other.Args["model"] = "mistral"
	err = c.Register(other)
	var alreadyExists *clustererrors.ErrAlreadyExists
	assert.True(t, errors.As(err, &alreadyExists))

	got, err := c.Workload("llama8b")
	require.NoError(t, err)
	assert.Equal(t, "llama", got.Args["model"])

	// Explicit replacement overwrites
	c.Replace(other)
	got, err = c.Workload("llama8b")
	require.NoError(t, err)
	assert.Equal(t, "mistral", got.Args["model"])
}

func TestWorkload_ReturnsCopy(t *testing.T) {
	c, err := New(nil, []*WorkloadSpec{{Name: "w", ScriptType: "m", Args: map[string]interface{}{"a": 1}}})
	require.NoError(t, err)

	got, err := c.Workload("w")
	require.NoError(t, err)
	got.Args["a"] = 2

	again, err := c.Workload("w")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Args["a"])
}

func TestLookup_NotFound(t *testing.T) {
	c, err := New(nil, nil)
	require.NoError(t, err)

	_, err = c.Device("a40-4")
	var notFound *clustererrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
	assert.Equal(t, "device", notFound.Type)

	_, err = c.Workload("vllm")
	assert.True(t, errors.As(err, &notFound))
	assert.Equal(t, "workload", notFound.Type)
}

func TestSetArg(t *testing.T) {
	c, err := New(nil, []*WorkloadSpec{
		{Name: "a", ScriptType: "m"},
		{Name: "b", ScriptType: "m", Args: map[string]interface{}{"x": 1}},
	})
	require.NoError(t, err)

	c.SetArg("registry", "redis://localhost:6379")

	for _, name := range []string{"a", "b"} {
		w, err := c.Workload(name)
		require.NoError(t, err)
		assert.Equal(t, "redis://localhost:6379", w.Args["registry"])
	}
}

func TestLoadWorkloadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vllm.yaml"), []byte(`
script_type: literegistry.vllm
args:
  model: meta-llama/Llama-3.1-8B
  tensor_parallel_size: ${DEVICE_COUNT}
env:
  HF_HOME: /scratch/hf
priority: high
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gsmrm.yml"), []byte("script_type: rm.gsm\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	specs, err := LoadWorkloadDir(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "gsmrm", specs[0].Name)
	assert.Equal(t, "rm.gsm", specs[0].ScriptType)
	assert.NotNil(t, specs[0].Args)

	vllm := specs[1]
	assert.Equal(t, "vllm", vllm.Name)
	assert.Equal(t, "literegistry.vllm", vllm.ScriptType)
	assert.Equal(t, "${DEVICE_COUNT}", vllm.Args["tensor_parallel_size"])
	assert.Equal(t, "/scratch/hf", vllm.Env["HF_HOME"])
	assert.Equal(t, "high", vllm.Extra["priority"])
}

func TestDecodeWorkload_RequiresScriptType(t *testing.T) {
	_, err := DecodeWorkload("x", map[string]interface{}{"args": map[string]interface{}{}})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	in := map[interface{}]interface{}{
		"a": []interface{}{map[interface{}]interface{}{1: "one"}},
	}
	out := Normalize(in)
	assert.Equal(t, map[string]interface{}{
		"a": []interface{}{map[string]interface{}{"1": "one"}},
	}, out)
}

func TestSortedArgNames(t *testing.T) {
	w := &WorkloadSpec{Name: "w", ScriptType: "m", Args: map[string]interface{}{"port": 1, "model": "m", "tensor_parallel_size": 8}}
	assert.Equal(t, []string{"model", "port", "tensor_parallel_size"}, w.SortedArgNames())
}
