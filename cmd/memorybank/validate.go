package main

import (
	"fmt"
	"strings"

	"memorybank/internal/memorybank"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the memory bank against disk",
	Long:  `Report missing files, checksum drift and markdown structure problems. Exits non-zero on errors.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBank(cmd.Context(), cfg, logger, nil, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		report := b.store.ValidateIntegrity()
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
		if !report.Valid {
			return fmt.Errorf("integrity check failed with %d errors", len(report.Errors))
		}
		return nil
	},
}

func renderReport(report memorybank.IntegrityReport) string {
	var b strings.Builder
	if report.Valid {
		b.WriteString(successStyle.Render("Memory bank is valid"))
	} else {
		b.WriteString(errorStyle.Render("Memory bank has errors"))
	}
	for _, e := range report.Errors {
		b.WriteString("\n" + errorStyle.Render("  error: ") + e)
	}
	for _, w := range report.Warnings {
		b.WriteString("\n" + warningStyle.Render("  warning: ") + w)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
