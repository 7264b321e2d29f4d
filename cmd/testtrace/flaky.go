package main

import (
	"fmt"

	"github.com/run-bigpig/testtrace/pkg/flaky"
	"github.com/spf13/cobra"
)

func newFlakyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flaky",
		Short: "Work with flaky test markers",
	}
	cmd.AddCommand(newFlakyReportCmd())
	cmd.AddCommand(newFlakyValidateCmd())
	return cmd
}

func newFlakyReportCmd() *cobra.Command {
	var markersFile, out string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a JSON report of every test marked flaky",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := flaky.LoadFile(markersFile)
			if err != nil {
				return err
			}
			if err := set.Validate(); err != nil {
				return fmt.Errorf("invalid flaky markers: %w", err)
			}
			report := set.Report()
			if err := flaky.WriteReport(out, report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d flaky tests to %s\n", len(report), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&markersFile, "markers", "", "YAML file listing flaky tests")
	cmd.Flags().StringVarP(&out, "out", "o", flaky.DefaultReportFile, "Report file")
	_ = cmd.MarkFlagRequired("markers")
	return cmd
}

func newFlakyValidateCmd() *cobra.Command {
	var markersFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every flaky marker in a markers file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := flaky.LoadFile(markersFile)
			if err != nil {
				return err
			}
			if err := set.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d flaky markers ok\n", len(set.Tests))
			return nil
		},
	}

	cmd.Flags().StringVar(&markersFile, "markers", "", "YAML file listing flaky tests")
	_ = cmd.MarkFlagRequired("markers")
	return cmd
}
