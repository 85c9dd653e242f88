package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"respec/internal/dataset"
	"respec/internal/gateway/app"
	"respec/internal/gateway/config"
)

var datasetPushPrefix string

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage dataset documents in the configured source",
	Long:  "Upload and list catalog documents in the source selected by DATASET_SOURCE.",
}

var datasetPushCmd = &cobra.Command{
	Use:   "push <file>...",
	Short: "Validate and upload documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		_, w, closeOrigin, err := app.OpenDatasetOrigin(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeOrigin()

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if _, err := dataset.Parse(data, filepath.Ext(path)); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			name := datasetPushPrefix + filepath.Base(path)
			if err := w.Put(cmd.Context(), name, data); err != nil {
				return fmt.Errorf("push %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s (%d bytes)\n", name, len(data))
		}
		return nil
	},
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in the configured source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		src, _, closeOrigin, err := app.OpenDatasetOrigin(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeOrigin()

		names, err := src.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Name\tBytes\n")
		for _, name := range names {
			data, err := src.Read(cmd.Context(), name)
			if err != nil {
				fmt.Fprintf(tw, "%s\t%v\n", name, err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\n", name, len(data))
		}
		return tw.Flush()
	},
}

func init() {
	datasetPushCmd.Flags().StringVar(&datasetPushPrefix, "prefix", "", "name prefix inside the source")
	datasetCmd.AddCommand(datasetPushCmd)
	datasetCmd.AddCommand(datasetListCmd)
}
