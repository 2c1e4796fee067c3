package main

import (
	"fmt"
	"path/filepath"

	"memorybank/internal/memorybank"
	"memorybank/pkg/fileops"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	exportFormat   string
	exportMetadata bool
	exportOutput   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every document as one snapshot",
	Long:  `Write a json or markdown snapshot of the memory bank to stdout or --output.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := memorybank.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		b, err := openBank(cmd.Context(), cfg, logger, nil, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		snapshot, err := b.store.ExportSnapshot(format, exportMetadata)
		if err != nil {
			return err
		}

		if exportOutput == "" || exportOutput == "-" {
			fmt.Fprint(cmd.OutOrStdout(), snapshot)
			return nil
		}
		path := fileops.ExpandPath(exportOutput)
		if err := fileops.EnsureDirectoryExists(filepath.Dir(path)); err != nil {
			return err
		}
		if err := fileops.AtomicWriteFile(path, []byte(snapshot), 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), successStyle.Render(
			fmt.Sprintf("Exported %d documents (%s) to %s", len(memorybank.Keys()), humanize.IBytes(uint64(len(snapshot))), path)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(memorybank.FormatJSON), "Snapshot format: json or markdown")
	exportCmd.Flags().BoolVar(&exportMetadata, "metadata", false, "Include version, checksum and timestamps")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
}
