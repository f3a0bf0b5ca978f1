// Package script renders the batch scripts submitted for each job.
package script

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/slurmcompose/internal/catalog"
)

const (
	jobNamePrefix = "sc:"

	MetaDeviceCount = "DEVICE_COUNT"
	MetaDevice      = "DEVICE"
	MetaWorkload    = "WORKLOAD"
)

const scriptTemplate = `#!/bin/bash
{{- range .Directives }}
#SBATCH --{{ .Name }}={{ .Value }}
{{- end }}
{{ if .CondaPath }}
# Activate conda environment
source {{ .CondaPath }}
{{- if .CondaEnv }}
conda activate {{ .CondaEnv }}
{{- end }}
{{ end }}
{{- if .Env }}
{{- range .Env }}
export {{ .Name }}={{ .Value | shellarg }}
{{- end }}
{{ end }}
# Run the workload
python -m {{ .ScriptType }}{{ range .Args }} \
    --{{ .Name | replace "_" "-" }}={{ .Value | shellarg }}{{ end }}
`

// Arguments of the form ${NAME}, either as the whole value or embedded in a string.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type Config struct {
	Account   string
	CondaPath string
	CondaEnv  string
	// Variables available for ${VAR} substitution in workload arguments, in addition to
	// DEVICE_COUNT, DEVICE and WORKLOAD.
	MetaArgs map[string]interface{}
}

// Generator renders batch scripts from a device and a workload spec.
type Generator struct {
	config   Config
	template *template.Template
}

type namedValue struct {
	Name  string
	Value interface{}
}

type scriptData struct {
	Directives []namedValue
	CondaPath  string
	CondaEnv   string
	Env        []namedValue
	ScriptType string
	Args       []namedValue
}

func NewGenerator(config Config) (*Generator, error) {
	funcs := sprig.TxtFuncMap()
	funcs["shellarg"] = shellArg
	tmpl, err := template.New("script").Funcs(funcs).Option("missingkey=error").Parse(scriptTemplate)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Generator{config: config, template: tmpl}, nil
}

// Generate returns the script for one job of the (device, workload) pair identified by key.
// It fails if a workload argument references an undefined variable.
func (g *Generator) Generate(key string, device *catalog.DeviceSpec, workload *catalog.WorkloadSpec) (string, error) {
	args, err := g.substitute(device, workload)
	if err != nil {
		return "", err
	}
	data := scriptData{
		Directives: g.directives(key, device, workload),
		CondaPath:  g.config.CondaPath,
		CondaEnv:   g.config.CondaEnv,
		ScriptType: workload.ScriptType,
	}
	for _, name := range workload.SortedArgNames() {
		data.Args = append(data.Args, namedValue{Name: name, Value: args[name]})
	}
	envNames := maps.Keys(workload.Env)
	slices.Sort(envNames)
	for _, name := range envNames {
		data.Env = append(data.Env, namedValue{Name: name, Value: workload.Env[name]})
	}

	var buf bytes.Buffer
	if err := g.template.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "error rendering script for %s", key)
	}
	return buf.String(), nil
}

func (g *Generator) metaArgs(device *catalog.DeviceSpec, workload *catalog.WorkloadSpec) map[string]interface{} {
	meta := map[string]interface{}{
		MetaDevice:   device.Name,
		MetaWorkload: workload.Name,
	}
	if device.DeviceCount > 0 {
		meta[MetaDeviceCount] = device.DeviceCount
	}
	for k, v := range g.config.MetaArgs {
		meta[k] = v
	}
	return meta
}

func (g *Generator) substitute(device *catalog.DeviceSpec, workload *catalog.WorkloadSpec) (map[string]interface{}, error) {
	meta := g.metaArgs(device, workload)
	result := make(map[string]interface{}, len(workload.Args))
	for name, value := range workload.Args {
		s, ok := value.(string)
		if !ok {
			result[name] = value
			continue
		}
		matches := variablePattern.FindAllStringSubmatch(s, -1)
		for _, m := range matches {
			if _, ok := meta[m[1]]; !ok {
				return nil, errors.Errorf("workload %s argument %s references undefined variable %s", workload.Name, name, m[1])
			}
		}
		// A value that is exactly one variable keeps the variable's type.
		if len(matches) == 1 && matches[0][0] == s {
			result[name] = meta[matches[0][1]]
			continue
		}
		result[name] = variablePattern.ReplaceAllStringFunc(s, func(v string) string {
			return fmt.Sprint(meta[v[2:len(v)-1]])
		})
	}
	return result, nil
}

// directives returns the #SBATCH header lines: the device type preset in a fixed order, with
// workload overrides replacing presets in place and additional directives appended in name order.
func (g *Generator) directives(key string, device *catalog.DeviceSpec, workload *catalog.WorkloadSpec) []namedValue {
	directives := []namedValue{
		{"job-name", JobName(key)},
		{"output", "slurm_%j.log"},
		{"error", "slurm_%j.err"},
		{"nodes", 1},
		{"ntasks", 1},
	}
	partition, qos := "ckpt-all", "ckpt"
	if device.Type == catalog.DeviceTypeGpu {
		directives = append(directives, namedValue{"gres", fmt.Sprintf("gpu:%d", device.DeviceCount)})
		partition, qos = "gpu-"+device.GpuType, "ckpt-gpu"
	}
	if device.Partition != "" {
		partition = device.Partition
	}
	if device.Qos != "" {
		qos = device.Qos
	}
	directives = append(directives,
		namedValue{"time", fmt.Sprintf("%d:00:00", device.Hours)},
		namedValue{"mem", fmt.Sprintf("%dG", device.MemGb)},
		namedValue{"partition", partition},
		namedValue{"cpus-per-task", device.Cpus},
	)
	if g.config.Account != "" {
		directives = append(directives, namedValue{"account", g.config.Account})
	}
	directives = append(directives, namedValue{"qos", qos})

	for _, name := range sortedKeys(workload.Slurm) {
		i := slices.IndexFunc(directives, func(d namedValue) bool { return d.Name == name })
		if i >= 0 {
			directives[i].Value = workload.Slurm[name]
		} else {
			directives = append(directives, namedValue{name, workload.Slurm[name]})
		}
	}
	return directives
}

// JobName returns the scheduler job name for a job of the given identity key.
func JobName(key string) string {
	return jobNamePrefix + key
}

// KeyFromJobName recovers the identity key from a job name produced by JobName.
func KeyFromJobName(name string) (string, bool) {
	if !strings.HasPrefix(name, jobNamePrefix) {
		return "", false
	}
	key := strings.TrimPrefix(name, jobNamePrefix)
	if i := strings.Index(key, ":"); i <= 0 || i == len(key)-1 {
		return "", false
	}
	return key, true
}

func sortedKeys(m map[string]interface{}) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// shellArg renders a value for use on a shell command line, single-quoting it when needed.
func shellArg(value interface{}) string {
	s := fmt.Sprint(value)
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,@%+", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
