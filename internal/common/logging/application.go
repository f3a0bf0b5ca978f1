package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// ConfigureCliLogging sets up logging suitable for short-lived commands such as plan and status:
// bare messages on stdout, no timestamps.
func ConfigureCliLogging() {
	log.SetFormatter(&CommandLineFormatter{})
	log.SetOutput(os.Stdout)
}

// ConfigureApplicationLogging sets up logging suitable for the long-running apply loop.
func ConfigureApplicationLogging(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	level, _ := ParseLevel(config.Level)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	if strings.ToLower(config.Format) == FormatJson {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: RFC3339Milli})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: RFC3339Milli})
	}
	return nil
}

// AddPrometheusHook exports the number of log lines per level as a prometheus counter.
// It registers with the default registry, so it must be called at most once per process.
func AddPrometheusHook() error {
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		return err
	}
	log.AddHook(hook)
	return nil
}
