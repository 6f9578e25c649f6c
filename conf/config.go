/*
 * Copyright 2022 The utxowatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package conf loads the yaml process configuration.
package conf

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// DefaultLongestRollback is the retention window applied when the config
// leaves it unset.
const DefaultLongestRollback = 2160

// Config holds all the config read from the yaml config file.
type Config struct {
	// DatabaseFile is the on-disk store path. Ignored when InMemory is set.
	DatabaseFile string `yaml:"DatabaseFile"`
	// InMemory runs the store without persistence.
	InMemory bool `yaml:"InMemory"`
	// LongestRollback is the retention window k, in slots.
	LongestRollback uint64 `yaml:"LongestRollback"`
	// DeferIndexes skips non-essential index installation at startup for
	// faster bulk ingest.
	DeferIndexes bool `yaml:"DeferIndexes"`
	// ListenAddr is the HTTP api listen address.
	ListenAddr string `yaml:"ListenAddr"`
	// MetricWeb is the prometheus exposition listen address. Empty disables
	// the metric web.
	MetricWeb string `yaml:"MetricWeb"`
	// LogLevel overrides the process log level.
	LogLevel string `yaml:"LogLevel"`
}

// GConf is the global config pointer.
var GConf *Config

// LoadConfig loads config from configPath and fills defaults.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		err = errors.Wrap(err, "read config file")
		return
	}
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		config = nil
		err = errors.Wrap(err, "unmarshal config file")
		return
	}
	config.fillDefaults()
	return
}

func (c *Config) fillDefaults() {
	if c.LongestRollback == 0 {
		c.LongestRollback = DefaultLongestRollback
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:1442"
	}
	if !c.InMemory && c.DatabaseFile == "" {
		c.DatabaseFile = "utxowatch.sqlite3"
	}
}
