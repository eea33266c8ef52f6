/*
Copyright 2026 Aperture Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aperturehq/aperture"
	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/database"
	"github.com/aperturehq/aperture/internal/notification"
)

// CLI encapsulates the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// apertureInstance holds the service instance and its configuration, shared
// across subcommands.
type apertureInstance struct {
	aperture *aperture.Aperture
	cnf      *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the service instance
// before running any command.
func preRun(app *apertureInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("aperture.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newAperture, err := setupAperture(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.aperture = newAperture
		app.cnf = cnf

		return nil
	}
}

// setupAperture creates and initializes a new service instance based on the
// provided configuration.
func setupAperture(cfg *config.Configuration) (*aperture.Aperture, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newAperture, err := aperture.NewAperture(db)
	if err != nil {
		return nil, fmt.Errorf("error creating aperture: %v", err)
	}
	return newAperture, nil
}

// NewCLI creates the command-line interface for the Aperture application.
func NewCLI() *CLI {
	var configFile string
	a := &apertureInstance{}

	var rootCmd = &cobra.Command{
		Use:   "aperture",
		Short: "AI enhancement credit service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./aperture.json", "Configuration file for aperture")

	rootCmd.PersistentPreRunE = preRun(a)

	rootCmd.AddCommand(serverCommands(a))
	rootCmd.AddCommand(workerCommands(a))
	rootCmd.AddCommand(migrateCommands(a))

	return &CLI{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
