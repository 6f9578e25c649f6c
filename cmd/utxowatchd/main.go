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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/utxowatch/utxowatch/api"
	"github.com/utxowatch/utxowatch/conf"
	"github.com/utxowatch/utxowatch/metric"
	"github.com/utxowatch/utxowatch/storage"
	"github.com/utxowatch/utxowatch/utils/log"
)

const name = "utxowatchd"

var (
	version = "unknown"

	// config
	configFile  string
	listenAddr  string
	showVersion bool
	logLevel    string
)

func init() {
	flag.StringVar(&configFile, "config", "config.yaml", "Config file path")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&listenAddr, "listen", "", "Listen address for http query api, overrides config")
	flag.StringVar(&logLevel, "log-level", "", "Service log level")
}

func main() {
	flag.Parse()
	log.SetStringLevel(logLevel, log.InfoLevel)
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	flag.Visit(func(f *flag.Flag) {
		log.Infof("args %#v : %s", f.Name, f.Value)
	})

	var err error
	conf.GConf, err = conf.LoadConfig(configFile)
	if err != nil {
		log.WithField("config", configFile).WithError(err).Fatal("load config failed")
	}
	if conf.GConf.LogLevel != "" && logLevel == "" {
		log.SetStringLevel(conf.GConf.LogLevel, log.InfoLevel)
	}
	if listenAddr == "" {
		listenAddr = conf.GConf.ListenAddr
	}

	registry := metric.NewRegistry()

	file := storage.OnDisk(conf.GConf.DatabaseFile)
	if conf.GConf.InMemory {
		file = storage.InMemoryShared()
	}
	deferIndexes := storage.InstallIfNotExist
	if conf.GConf.DeferIndexes {
		deferIndexes = storage.SkipNonEssential
	}

	ctx := context.Background()
	db, err := storage.OpenLongLived(ctx, storage.Options{
		File:            file,
		LongestRollback: conf.GConf.LongestRollback,
		DeferIndexes:    deferIndexes,
		Tracer:          storage.LogTracer{},
		Metrics:         storage.NewMetrics(registry),
	})
	if err != nil {
		log.WithError(err).Fatal("open store failed")
	}

	httpServer, err := api.StartAPI(db, listenAddr)
	if err != nil {
		log.WithError(err).Fatal("start query api failed")
	}
	log.WithField("listen", listenAddr).Info("query api started")

	if conf.GConf.MetricWeb != "" {
		metricServer := metric.InitMetricWeb(conf.GConf.MetricWeb, registry)
		defer func() { _ = metricServer.Shutdown(ctx) }()
		log.WithField("listen", conf.GConf.MetricWeb).Info("metric web started")
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
	signal.Stop(signalCh)

	log.Info("shutting down")
	if err = api.StopAPI(httpServer); err != nil {
		log.WithError(err).Error("stop query api failed")
	}
	if err = db.Close(); err != nil {
		log.WithError(err).Error("close store failed")
	}
	log.Info("stopped")
}
