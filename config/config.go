// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/batchrunner/internal/scheduler"
	"github.com/cardinalhq/batchrunner/internal/transform"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Transform transform.Config `mapstructure:"transform"`
	Memory    MemoryConfig     `mapstructure:"memory"`
}

// MemoryConfig controls the memory monitor's ceiling.
type MemoryConfig struct {
	// LimitBytes caps estimated in-flight memory. Zero auto-derives the
	// limit from available system memory at startup.
	LimitBytes int64 `mapstructure:"limit_bytes"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "BATCHRUNNER" and the dot character
// in keys is replaced by an underscore. For example,
// "scheduler.max_concurrent" becomes "BATCHRUNNER_SCHEDULER_MAX_CONCURRENT".
func Load() (*Config, error) {
	cfg := &Config{
		Scheduler: scheduler.DefaultConfig(),
		Transform: transform.DefaultConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("BATCHRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
