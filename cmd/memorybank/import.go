package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"memorybank/internal/memorybank"
	"memorybank/pkg/fileops"

	"github.com/spf13/cobra"
)

var (
	importOverwrite  bool
	importNoValidate bool
	importBackup     bool
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a snapshot",
	Long: `Apply a json or markdown snapshot. Documents with authored content are
kept unless --overwrite is given. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readSnapshot(cmd.InOrStdin(), args[0], cfg.Security.MaxContentSize)
		if err != nil {
			return err
		}

		b, err := openBank(cmd.Context(), cfg, logger, nil, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		result, err := b.store.ImportSnapshot(cmd.Context(), data, memorybank.ImportOptions{
			OverwriteExisting: importOverwrite,
			ValidateContent:   !importNoValidate,
			CreateBackup:      importBackup,
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderImport(result))
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d documents failed to import", len(result.Failed))
		}
		return nil
	},
}

// readSnapshot reads path, or stdin for "-". A snapshot holds at most six
// documents, so anything over six times the content cap is rejected unread.
func readSnapshot(stdin io.Reader, path string, maxContent int64) (string, error) {
	limit := 6*maxContent + 64<<10

	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(fileops.ExpandPath(path))
		if err != nil {
			return "", fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("snapshot is larger than %d bytes", limit)
	}
	return string(data), nil
}

func renderImport(result memorybank.ImportResult) string {
	var b strings.Builder
	keys := make([]string, 0, len(result.Imported))
	for _, k := range result.Imported {
		keys = append(keys, string(k))
	}
	b.WriteString(successStyle.Render(fmt.Sprintf("Imported %d documents", len(keys))))
	if len(keys) > 0 {
		b.WriteString(": " + strings.Join(keys, ", "))
	}
	for _, issue := range result.Skipped {
		b.WriteString("\n" + warningStyle.Render(fmt.Sprintf("skipped %s: %s", issue.Key, issue.Reason)))
	}
	for _, issue := range result.Failed {
		b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("failed %s: %s", issue.Key, issue.Reason)))
	}
	if result.BackupPath != "" {
		b.WriteString("\n" + subtitleStyle.Render("Backup written to "+result.BackupPath))
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "Replace documents that hold authored content")
	importCmd.Flags().BoolVar(&importNoValidate, "no-validate", false, "Attempt every entry instead of skipping ones that fail validation")
	importCmd.Flags().BoolVar(&importBackup, "backup", false, "Write a JSON backup of the current documents first")
}
