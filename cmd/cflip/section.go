package main

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/spf13/cobra"

	"charge-flip/internal/density"
	"charge-flip/internal/origin"
	"charge-flip/internal/project"
	"charge-flip/internal/section"
	"charge-flip/pkg/colorutil"
	"charge-flip/pkg/geometry"
)

var (
	sectionAxis   string
	sectionLevel  float64
	sectionScale  int
	sectionPeaks  bool
	sectionCutoff float64
	sectionOut    string
)

var sectionCmd = &cobra.Command{
	Use:   "section RESULT.json",
	Short: "Render a density section of a solution",
	Long: `Synthesise the density of a phased solution written by "cflip solve -o"
and render one plane of it as an image (PNG, TIFF or JPEG, by extension).
Negative density is blue, positive red.`,
	Args: cobra.ExactArgs(1),
	RunE: runSection,
}

func init() {
	sectionCmd.Flags().StringVar(&sectionAxis, "axis", "c", "Axis normal to the section (a, b, c)")
	sectionCmd.Flags().Float64Var(&sectionLevel, "level", 0, "Fractional coordinate of the section along the axis")
	sectionCmd.Flags().IntVar(&sectionScale, "scale", 8, "Pixels per grid point")
	sectionCmd.Flags().BoolVar(&sectionPeaks, "peaks", false, "Mark density peaks lying in the section")
	sectionCmd.Flags().Float64Var(&sectionCutoff, "peak-cutoff", 0.3, "Peak height relative to the highest, with --peaks")
	sectionCmd.Flags().StringVarP(&sectionOut, "out", "o", "section.png", "Image file to write")
	rootCmd.AddCommand(sectionCmd)
}

func runSection(cmd *cobra.Command, args []string) error {
	axis, err := section.ParseAxis(sectionAxis)
	if err != nil {
		return err
	}
	if !section.IsSupportedFormat(sectionOut) {
		return fmt.Errorf("unsupported image format: %s", sectionOut)
	}
	res, err := project.LoadResult(args[0])
	if err != nil {
		return fmt.Errorf("load result: %w", err)
	}
	set, err := res.PhasedSet()
	if err != nil {
		return err
	}
	transform := density.NewTransform(set.Cell(), density.NewGridding(set, cfg.Solver.ResolutionFactor))
	m, err := transform.ToMap(set, res.F000)
	if err != nil {
		return err
	}

	n := m.Grid.N[axis]
	level := int(math.Round(sectionLevel * float64(n)))
	s, err := section.Cut(m, axis, level)
	if err != nil {
		return err
	}
	img := section.Render(s, sectionScale)

	marked := 0
	if sectionPeaks {
		peaks := origin.PeakSearch(m, set.Cell(), origin.PeakParams{
			Cutoff:           sectionCutoff,
			MinCrossDistance: 0.5,
			Interpolate:      true,
		})
		plane := float64(s.Level) / float64(n)
		for _, p := range peaks {
			depth, u, v := inPlane(p.Site, axis)
			d := depth - plane
			if math.Abs(d-math.Round(d)) > 0.5/float64(n) {
				continue
			}
			section.Mark(img, s, u, v, colorutil.Yellow)
			marked++
		}
	}

	if err := section.Save(sectionOut, img); err != nil {
		return err
	}
	slog.Info("section written",
		"path", sectionOut,
		"axis", axis.String(),
		"level", s.Level,
		"grid", m.Grid.N,
		"peaks", marked)
	return nil
}

// inPlane splits a fractional site into its coordinate along axis and its
// two in-plane coordinates, in section column and row order.
func inPlane(x geometry.Vec3, axis section.Axis) (depth, u, v float64) {
	switch axis {
	case section.AxisA:
		return x.X, x.Y, x.Z
	case section.AxisB:
		return x.Y, x.X, x.Z
	default:
		return x.Z, x.X, x.Y
	}
}
