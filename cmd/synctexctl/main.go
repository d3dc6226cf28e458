package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgallion1/texsync/internal/pdfgeom"
	"github.com/dgallion1/texsync/internal/synctex"
	"github.com/dgallion1/texsync/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "synctexctl",
	Short: "Inspect and query SyncTeX files",
	Long:  `synctexctl decodes a .synctex or .synctex.gz file and resolves PDF points to source lines and back`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		mode, _ := cmd.Root().PersistentFlags().GetString("color")
		switch mode {
		case "on":
			color.NoColor = false
		case "off":
			color.NoColor = true
		default:
			color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(forwardCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Int64("max-bytes", transport.DefaultMaxSyncTeXBytes, "maximum inflated size of a compressed file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var gzipMagic = []byte{0x1f, 0x8b}

// loadIndex reads a SyncTeX file, inflating it when it is gzip-compressed.
func loadIndex(cmd *cobra.Command, path string) (*synctex.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, gzipMagic) {
		limit, _ := cmd.Root().PersistentFlags().GetInt64("max-bytes")
		if data, err = transport.Decompress(data, limit); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	ix, err := synctex.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ix, nil
}

// loadGeometry reads page boxes from the --pdf flag, if given.
func loadGeometry(cmd *cobra.Command) (pdfgeom.Geometry, error) {
	path, _ := cmd.Flags().GetString("pdf")
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := pdfgeom.Read(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

var (
	headColor  = color.New(color.FgCyan, color.Bold)
	fileColor  = color.New(color.FgGreen)
	lineColor  = color.New(color.FgYellow, color.Bold)
	dimColor   = color.New(color.Faint)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
)
