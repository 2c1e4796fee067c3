package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"memorybank/internal/memorybank"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the memory bank documents",
	Long:  `Show each document's version, size, checksum and last modification.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBank(cmd.Context(), cfg, logger, nil, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(b.store.BankDir(), b.store.List(), time.Now()))
		return nil
	},
}

func renderStatus(bankDir string, docs []memorybank.Document, now time.Time) string {
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, []string{
			string(doc.Key),
			strconv.FormatInt(doc.Version, 10),
			humanize.IBytes(uint64(doc.Size)),
			shortChecksum(doc.Checksum),
			humanize.RelTime(doc.ModifiedAt, now, "ago", "from now"),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("DOCUMENT", "VERSION", "SIZE", "CHECKSUM", "MODIFIED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("Memory bank"))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render(bankDir))
	b.WriteString("\n")
	b.WriteString(t.Render())
	return b.String()
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
