// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package cmd implements the hise command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aifimmunology/hise/auth"
	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
)

var versionText = "Program Version " + core.Version

const aboutText = "This is a program that provides information based on command line arguments."

// the optional file of environment variables read before configuration
const dotEnvFile = ".env"

var showVersion, showAbout bool

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "hise",
	Short: "hise provides information about the HISE SDK and its workspace.",
	Long: `hise provides information about the HISE SDK and its workspace.

The 'fields' subcommand lists the fields that can be queried.

The 'ledger' subcommand lists the files downloaded into the workspace.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case showVersion:
			fmt.Fprintln(cmd.OutOrStdout(), versionText)
		case showAbout:
			fmt.Fprintln(cmd.OutOrStdout(), aboutText)
		default:
			return cmd.Help()
		}
		return nil
	},
}

func init() {
	RootCmd.Flags().BoolVar(&showVersion, "version", false, "Show the version of the program")
	RootCmd.Flags().BoolVar(&showAbout, "about", false, "Show information about the program")
}

// returns the log level named by the LOG_LEVEL environment variable
func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initializes the SDK's configuration for a subcommand
func initSDK() error {
	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		return err
	}
	return config.InitDefault()
}

// returns a client acting for the current notebook instance
func newClient() *backend.Client {
	return backend.NewClient(auth.NewSession(auth.NewMetadataServer()))
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: logLevelFromEnv()})))
	if err := RootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
