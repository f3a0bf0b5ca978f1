package logging

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		config  Config
		wantErr bool
	}{
		"defaults":       {Config{}, false},
		"debug text":     {Config{Level: "debug", Format: "text"}, false},
		"upper case":     {Config{Level: "WARN", Format: "JSON"}, false},
		"unknown level":  {Config{Level: "loud"}, true},
		"unknown format": {Config{Level: "info", Format: "xml"}, true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithStacktrace_AddsStackAtDebug(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	err := errors.Wrap(errors.New("root"), "outer")
	WithStacktrace(logrus.NewEntry(logger), err).Error("failed")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, err, hook.LastEntry().Data[logrus.ErrorKey])
	assert.NotNil(t, hook.LastEntry().Data[Stacktrace])
}

func TestWithStacktrace_OmitsStackAtInfo(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	WithStacktrace(logrus.NewEntry(logger), errors.New("root")).Error("failed")

	require.Len(t, hook.Entries, 1)
	_, present := hook.LastEntry().Data[Stacktrace]
	assert.False(t, present)
}

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(nil))
	assert.Nil(t, ExtractStack(plainError("x")))
	assert.NotNil(t, ExtractStack(errors.New("x")))
	assert.NotNil(t, ExtractStack(errors.WithMessage(errors.New("x"), "y")))
}

func TestCommandLineFormatter(t *testing.T) {
	f := &CommandLineFormatter{}

	out, err := f.Format(&logrus.Entry{Message: "hello", Data: logrus.Fields{}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	out, err = f.Format(&logrus.Entry{Message: "launched", Data: logrus.Fields{"key": "a:b", "jobId": "42"}})
	require.NoError(t, err)
	assert.Equal(t, "launched (jobId=42 key=a:b)\n", string(out))
}

type plainError string

func (e plainError) Error() string { return string(e) }
