/*
Copyright 2025 The Kubernetes Authors.

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

// Package main implements the ca-proxmox-provider binary: the
// external cloud-provider process an autoscaler talks to over the
// remote-call surface (A3), backed by the Proxmox Adapter, State
// Store, Reconciler and Scaling Controller wired together here.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "v0.0.0"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := cobra.Command{
		Use:           "ca-proxmox-provider",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		Short:         "Cluster-autoscaler external cloud provider for a Proxmox-backed k3s cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          buildServeFunc(),
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to the provider's YAML configuration document")
	flags.IntP("verbosity", "v", 0, "log verbosity (0=info, 1=debug, 2=trace)")
	flags.Bool("development", false, "use the development zap encoder instead of the production one")
	flags.String("metrics-addr", "127.0.0.1:9090", "address the Prometheus metrics endpoint listens on")

	if err := cmd.ExecuteContext(ctx); err != nil {
		errorString := err.Error()
		if strings.Contains(errorString, "arg(s)") || strings.Contains(errorString, "flag") || strings.Contains(errorString, "command") {
			fmt.Fprintf(os.Stderr, "Error: %s\n\n", errorString)
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		} else {
			fmt.Fprintln(os.Stderr, "Execute error:", err)
		}

		return 1
	}

	return 0
}

func buildServeFunc() func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()

		configPath, err := flags.GetString("config")
		if err != nil {
			return err
		}

		verbosity, err := flags.GetInt("verbosity")
		if err != nil {
			return err
		}

		development, err := flags.GetBool("development")
		if err != nil {
			return err
		}

		metricsAddr, err := flags.GetString("metrics-addr")
		if err != nil {
			return err
		}

		return serve(cmd.Context(), configPath, verbosity, development, metricsAddr)
	}
}
