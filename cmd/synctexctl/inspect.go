package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] file.synctex.gz",
	Short: "Summarize a SyncTeX file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	inspectCmd.Flags().Bool("pages", false, "list block counts per page")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	perPage, _ := cmd.Flags().GetBool("pages")

	ix, err := loadIndex(cmd, args[0])
	if err != nil {
		return err
	}
	sum := ix.Summary()

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case "pretty":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	headColor.Printf("%s\n", args[0])
	fmt.Printf("  version  %d\n", sum.Version)
	fmt.Printf("  output   %s\n", ix.Header.Output)
	fmt.Printf("  pages    %d\n", sum.Pages)
	fmt.Printf("  blocks   %d\n", sum.Blocks)
	fmt.Printf("  inputs   %d\n", len(sum.Files))
	for _, f := range ix.Files {
		fmt.Printf("    %s %s\n", dimColor.Sprintf("%3d", f.ID), fileColor.Sprint(f.Path))
	}
	if perPage {
		for _, n := range ix.PageNumbers() {
			p, _ := ix.Page(n)
			fmt.Printf("  page %-4d %d blocks\n", n, len(p.Blocks))
		}
	}
	return nil
}
