package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dgallion1/texsync/internal/synctex"
)

var locateCmd = &cobra.Command{
	Use:   "locate [flags] file.synctex.gz page x y",
	Short: "Resolve a point on a page to its source line",
	Long: `Locate resolves a point to the source file and line that produced it.
Coordinates are big points in SyncTeX page space (origin top-left), or in
PDF user space (origin bottom-left) when --pdf names the compiled document.`,
	Args: cobra.ExactArgs(4),
	RunE: runLocate,
}

var forwardCmd = &cobra.Command{
	Use:   "forward [flags] file.synctex.gz source line",
	Short: "List the regions typeset from a source line",
	Args:  cobra.ExactArgs(3),
	RunE:  runForward,
}

func init() {
	locateCmd.Flags().String("pdf", "", "compiled PDF; coordinates are then PDF user space")
	forwardCmd.Flags().String("pdf", "", "compiled PDF; regions are then reported in PDF user space")
}

func runLocate(cmd *cobra.Command, args []string) error {
	page, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid page %q", args[1])
	}
	x, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid x %q", args[2])
	}
	y, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("invalid y %q", args[3])
	}

	ix, err := loadIndex(cmd, args[0])
	if err != nil {
		return err
	}
	geom, err := loadGeometry(cmd)
	if err != nil {
		return err
	}
	sx, sy := geom.ToSync(page, x, y)

	loc, err := ix.Locate(page, sx, sy)
	if errors.Is(err, synctex.ErrNotFound) {
		warnColor.Printf("no source location: %v\n", err)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s:%s\n", fileColor.Sprint(loc.File), lineColor.Sprint(loc.Line))
	return nil
}

func runForward(cmd *cobra.Command, args []string) error {
	line, err := strconv.Atoi(args[2])
	if err != nil || line < 1 {
		return fmt.Errorf("invalid line %q", args[2])
	}

	ix, err := loadIndex(cmd, args[0])
	if err != nil {
		return err
	}
	geom, err := loadGeometry(cmd)
	if err != nil {
		return err
	}

	placements := ix.Forward(args[1], line)
	if len(placements) == 0 {
		errorColor.Printf("%s:%d was not typeset\n", args[1], line)
		return synctex.ErrNotFound
	}
	for _, p := range placements {
		b := p.Block
		r := geom.ToPDF(p.Page, b.Left, b.Bottom, b.Width, b.Height)
		fmt.Printf("%s %-10s x=%.2f y=%.2f w=%.2f h=%.2f\n",
			headColor.Sprintf("page %d", p.Page), dimColor.Sprint(b.Kind), r.X, r.Y, r.Width, r.Height)
	}
	return nil
}
