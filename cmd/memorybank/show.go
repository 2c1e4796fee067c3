package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	showRaw   bool
	showWidth int
)

var showCmd = &cobra.Command{
	Use:   "show [document]",
	Short: "Print a document",
	Long: `Render a document for the terminal. The name may omit .md or be a
memory-bank:// URI. Use --raw for the stored markdown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}

		b, err := openBank(cmd.Context(), cfg, logger, nil, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		doc, err := b.store.Get(key)
		if err != nil {
			return err
		}

		if showRaw {
			fmt.Fprint(cmd.OutOrStdout(), doc.Content)
			return nil
		}

		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(detectGlamourStyle(50*time.Millisecond)),
			glamour.WithWordWrap(showWidth),
		)
		if err != nil {
			return fmt.Errorf("create renderer: %w", err)
		}
		out, err := renderer.Render(doc.Content)
		if err != nil {
			return fmt.Errorf("render %s: %w", key, err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

// detectGlamourStyle honours GLAMOUR_STYLE, otherwise asks the terminal for
// its background and falls back to dark if it does not answer in time.
func detectGlamourStyle(timeout time.Duration) string {
	style := os.Getenv("GLAMOUR_STYLE")
	if style != "" && style != "auto" {
		return style
	}

	ch := make(chan string, 1)
	go func() {
		if termenv.NewOutput(os.Stdout).HasDarkBackground() {
			ch <- "dark"
			return
		}
		ch <- "light"
	}()

	select {
	case s := <-ch:
		return s
	case <-time.After(timeout):
		return "dark"
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "Print the stored markdown without rendering")
	showCmd.Flags().IntVar(&showWidth, "width", 80, "Word wrap width")
}
