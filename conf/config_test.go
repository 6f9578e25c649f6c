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

package conf

import (
	"io/ioutil"
	"path"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadConfig(t *testing.T) {
	Convey("A complete config file round-trips", t, func() {
		configPath := path.Join(t.TempDir(), "config.yaml")
		content := []byte(`
DatabaseFile: /var/lib/utxowatch/store.sqlite3
LongestRollback: 120
DeferIndexes: true
ListenAddr: 0.0.0.0:8080
MetricWeb: 0.0.0.0:9090
LogLevel: debug
`)
		So(ioutil.WriteFile(configPath, content, 0644), ShouldBeNil)

		config, err := LoadConfig(configPath)
		So(err, ShouldBeNil)
		So(config.DatabaseFile, ShouldEqual, "/var/lib/utxowatch/store.sqlite3")
		So(config.LongestRollback, ShouldEqual, 120)
		So(config.DeferIndexes, ShouldBeTrue)
		So(config.ListenAddr, ShouldEqual, "0.0.0.0:8080")
		So(config.MetricWeb, ShouldEqual, "0.0.0.0:9090")
		So(config.LogLevel, ShouldEqual, "debug")
	})

	Convey("An empty config file gets defaults", t, func() {
		configPath := path.Join(t.TempDir(), "config.yaml")
		So(ioutil.WriteFile(configPath, []byte("{}\n"), 0644), ShouldBeNil)

		config, err := LoadConfig(configPath)
		So(err, ShouldBeNil)
		So(config.LongestRollback, ShouldEqual, uint64(DefaultLongestRollback))
		So(config.ListenAddr, ShouldEqual, "127.0.0.1:1442")
		So(config.DatabaseFile, ShouldEqual, "utxowatch.sqlite3")
	})

	Convey("A missing config file reports an error", t, func() {
		_, err := LoadConfig(path.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})

	Convey("Malformed yaml reports an error", t, func() {
		configPath := path.Join(t.TempDir(), "config.yaml")
		So(ioutil.WriteFile(configPath, []byte("{{nope"), 0644), ShouldBeNil)

		_, err := LoadConfig(configPath)
		So(err, ShouldNotBeNil)
	})
}
