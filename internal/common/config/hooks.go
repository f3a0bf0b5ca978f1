package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// CustomHooks replaces viper's default decode hooks, so it has to carry the slice hook as well.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		DurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// DurationHookFunc decodes durations written either as Go duration strings ("90s", "2m") or as a
// bare number of seconds.
func DurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(time.Duration(0)) || f == t {
			return data, nil
		}
		switch f.Kind() {
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if d, err := time.ParseDuration(s); err == nil {
				return d, nil
			}
			seconds, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Errorf("invalid duration %q", s)
			}
			return secondsToDuration(seconds), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return secondsToDuration(float64(reflect.ValueOf(data).Int())), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return secondsToDuration(float64(reflect.ValueOf(data).Uint())), nil
		case reflect.Float32, reflect.Float64:
			return secondsToDuration(reflect.ValueOf(data).Float()), nil
		default:
			return data, nil
		}
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
