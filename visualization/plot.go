package visualization

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeu5/traffic-signal-rl/util"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Figure size of every plot
const (
	Width  = 20 * vg.Inch
	Height = 11.25 * vg.Inch
)

// Visualization saves series as line plots plus their raw values under Path
type Visualization struct {
	Path string
	DPI  int
}

func New(path string, dpi int) *Visualization {
	return &Visualization{Path: path, DPI: dpi}
}

// PlotFile and DataFile are the file names written for a series called name
func PlotFile(name string) string {
	return "plot_" + name + ".png"
}

func DataFile(name string) string {
	return "plot_" + name + "_data.txt"
}

// SaveDataAndPlot writes plot_<name>.png and plot_<name>_data.txt
func (v *Visualization) SaveDataAndPlot(data []float64, name, xlabel, ylabel string) error {
	if len(data) == 0 {
		return errors.New("no data to plot for " + name)
	}
	minV, maxV := data[0], data[0]
	for _, d := range data {
		minV = math.Min(minV, d)
		maxV = math.Max(maxV, d)
	}

	p := plot.New()
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.X.Min = 0
	p.X.Max = float64(len(data) - 1)
	p.Y.Min = minV - 0.05*math.Abs(minV)
	p.Y.Max = maxV + 0.05*math.Abs(maxV)
	if p.Y.Min == p.Y.Max {
		p.Y.Max = p.Y.Min + 1
	}

	points := make(plotter.XYs, len(data))
	for i, d := range data {
		points[i] = plotter.XY{X: float64(i), Y: d}
	}
	line, err := plotter.NewLine(points)
	if err != nil {
		return fmt.Errorf("plot %s: %w", name, err)
	}
	line.Color = plotutil.Color(0)
	p.Add(line)

	dpi := v.DPI
	if dpi <= 0 {
		dpi = 96
	}
	canvas := vgimg.NewWith(vgimg.UseWH(Width, Height), vgimg.UseDPI(dpi))
	p.Draw(draw.New(canvas))

	f, err := os.Create(filepath.Join(v.Path, PlotFile(name)))
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write plot %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	lines := make([]string, len(data))
	for i, d := range data {
		lines[i] = strconv.FormatFloat(d, 'g', -1, 64)
	}
	return util.WriteToFile(filepath.Join(v.Path, DataFile(name)), lines...)
}
