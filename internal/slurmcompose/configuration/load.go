package configuration

import (
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/armadaproject/slurmcompose/internal/common/config"
	"github.com/armadaproject/slurmcompose/internal/common/logging"
)

const (
	EnvPrefix         = "SLURMCOMPOSE"
	defaultConfigName = ".slurmcompose"
)

// SetDefaults registers default values for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("user", os.Getenv("USER"))
	v.SetDefault("devices", "machines.yaml")
	v.SetDefault("stateFile", "cluster_state.json")
	v.SetDefault("scriptDir", os.TempDir())
	v.SetDefault("condaPath", os.Getenv("CONDA_EXE"))
	v.SetDefault("reconcileInterval", 60*time.Second)
	v.SetDefault("drainTimeout", 2*time.Minute)
	v.SetDefault("pruneUnknown", true)
	v.SetDefault("metricsPort", 0)
	v.SetDefault("registry.argName", "registry")
	v.SetDefault("registry.checkInterval", 30*time.Second)
	v.SetDefault("scheduler.backend", BackendSlurm)
	v.SetDefault("scheduler.timeout", 30*time.Second)
	v.SetDefault("scheduler.historyWindow", "now-30days")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logging.FormatText)
}

// ReadConfigFile merges cfgFile into v. With no explicit file, $HOME/.slurmcompose.yaml is used if it
// exists. Environment variables prefixed with SLURMCOMPOSE_ override file values.
func ReadConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "error getting user home directory")
		}
		v.AddConfigPath(home)
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Only returned when looking for the default file, which is optional.
			return nil
		}
		return errors.Wrapf(err, "error reading config file %s", v.ConfigFileUsed())
	}
	return nil
}

// Load decodes v into a configuration, expands ~ in paths and validates the result.
func Load(v *viper.Viper) (*SlurmComposeConfiguration, error) {
	c := &SlurmComposeConfiguration{}
	if err := v.Unmarshal(c, config.CustomHooks...); err != nil {
		return nil, errors.Wrap(err, "error decoding configuration")
	}
	if err := c.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ExpandPaths replaces a leading ~ in every configured path with the user's home directory.
func (c *SlurmComposeConfiguration) ExpandPaths() error {
	var result *multierror.Error
	expand := func(path *string) {
		expanded, err := homedir.Expand(*path)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "error expanding %s", *path))
			return
		}
		*path = expanded
	}
	expand(&c.Devices)
	expand(&c.StateFile)
	expand(&c.ScriptDir)
	expand(&c.CondaPath)
	for name := range c.Workloads {
		path := c.Workloads[name]
		expand(&path)
		c.Workloads[name] = path
	}
	for i := range c.WorkloadDirs {
		expand(&c.WorkloadDirs[i])
	}
	return result.ErrorOrNil()
}

// Validate reports every invalid setting at once.
func (c *SlurmComposeConfiguration) Validate() error {
	var result *multierror.Error
	if c.StateFile == "" {
		result = multierror.Append(result, errors.New("stateFile must be set"))
	}
	if c.ReconcileInterval <= 0 {
		result = multierror.Append(result, errors.Errorf("reconcileInterval must be positive, got %s", c.ReconcileInterval))
	}
	if c.DrainTimeout <= 0 {
		result = multierror.Append(result, errors.Errorf("drainTimeout must be positive, got %s", c.DrainTimeout))
	}
	if c.Scheduler.Timeout <= 0 {
		result = multierror.Append(result, errors.Errorf("scheduler.timeout must be positive, got %s", c.Scheduler.Timeout))
	}
	switch c.Scheduler.Backend {
	case BackendSlurm:
		if c.User == "" {
			result = multierror.Append(result, errors.New("user must be set when using the slurm backend"))
		}
	case BackendLocal:
	default:
		result = multierror.Append(result, errors.Errorf("unknown scheduler.backend %q; expected %q or %q", c.Scheduler.Backend, BackendSlurm, BackendLocal))
	}
	if c.Registry.Enabled {
		if c.Registry.Url == "" {
			result = multierror.Append(result, errors.New("registry.url must be set when the registry is enabled"))
		}
		if c.Registry.CheckInterval <= 0 {
			result = multierror.Append(result, errors.Errorf("registry.checkInterval must be positive, got %s", c.Registry.CheckInterval))
		}
	}
	if err := c.Logging.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
