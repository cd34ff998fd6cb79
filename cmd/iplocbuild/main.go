// Copyright (c) 2019 The iplocbuild Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"os"

	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/spf13/cobra"

	"github.com/geofeed/iplocbuild/pkg/config"
	"github.com/geofeed/iplocbuild/pkg/engine"
	"github.com/geofeed/iplocbuild/pkg/export"
	"github.com/geofeed/iplocbuild/pkg/routesource"
)

const defaultOutfile = "iplocdata"

var (
	configPath string
	verbosity  int
	outfile    string
)

var logger logging.Logger // global logger

// init initializes the global logger
func init() {
	logger = logrus.DefaultLogger()
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "iplocbuild",
		Short:        "Build the IP-geolocation feed from configured allocations and live BGP data",
		Args:         cobra.ExactArgs(0),
		RunE:         run,
		SilenceUsage: true,
	}
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"location of the configuration file")
	flags.CountVarP(&verbosity, "verbose", "v",
		"output some debug information, use multiple times for increased verbosity")
	flags.StringVarP(&outfile, "outfile", "o", defaultOutfile,
		"base name for the output files, csv and json extensions are added automatically")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case verbosity <= 0:
		logger.SetLevel(logging.ErrorLevel)
	case verbosity == 1:
		logger.SetLevel(logging.InfoLevel)
	default:
		logger.SetLevel(logging.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, err := engine.NewContext(cfg, logger, verbosity)
	if err != nil {
		return err
	}

	querier := routesource.NewJunosQuerier(cfg.Username, cfg.Password, logger)
	if err := ctx.Run(querier); err != nil {
		return err
	}

	return export.NewProjector(ctx.Regions()).WriteFiles(outfile)
}
