package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "capturesync",
		Short: "Capture a photo and location and sync them as a record",
		Long: `capturesync gates the camera and location behind permission checks, captures
whatever is available, uploads the image, writes the record to the "users"
collection, reads it back and notifies the registered device.

Configuration comes from the environment (DB_PATH, OBJECT_LOCAL_PATH,
DEVICE_PUSH_TOKEN, DEVICE_GRANTS, ...); flags override it for a single run.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("metrics-out", "", "write Prometheus metrics in text format to this file after the run")
	root.AddCommand(newSyncCmd())
	return root
}

// writeMetrics dumps every family gathered from g to path.
func writeMetrics(g prometheus.Gatherer, path string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return f.Close()
}
