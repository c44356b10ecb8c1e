package performance

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/colorfulnotion/cpjit/log"
)

// ChartConfig holds configuration for chart generation
type ChartConfig struct {
	OutputDir string
	Width     string
	Height    string
}

func DefaultChartConfig() *ChartConfig {
	return &ChartConfig{
		OutputDir: "results",
		Width:     "1200px",
		Height:    "600px",
	}
}

func (c *ChartConfig) initialization() opts.Initialization {
	return opts.Initialization{Width: c.Width, Height: c.Height}
}

// GenerateAllCharts writes compile_speed.html, plus backend_runtime.html when results are given.
func GenerateAllCharts(stats []*CompileStats, results []BackendBenchResult, config *ChartConfig) error {
	if config == nil {
		config = DefaultChartConfig()
	}
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := filepath.Join(config.OutputDir, "compile_speed.html")
	if err := GenerateCompileSpeedChart(stats, config, filename); err != nil {
		return fmt.Errorf("failed to generate compile_speed chart: %w", err)
	}
	log.Info(log.CliMonitoring, "chart generated", "path", filename)

	if len(results) == 0 {
		return nil
	}
	filename = filepath.Join(config.OutputDir, "backend_runtime.html")
	if err := GenerateBackendRuntimeChart(results, config, filename); err != nil {
		return fmt.Errorf("failed to generate backend_runtime chart: %w", err)
	}
	log.Info(log.CliMonitoring, "chart generated", "path", filename)
	return nil
}

// GenerateCompileSpeedChart creates a scatter plot of compile time vs instruction count.
func GenerateCompileSpeedChart(stats []*CompileStats, config *ChartConfig, filename string) error {
	if config == nil {
		config = DefaultChartConfig()
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(config.initialization()),
		charts.WithTitleOpts(opts.Title{Title: "Compile Speed: Time vs IR Instructions"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "IR Instruction Count", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Compile Time (µs)", Type: "value"}),
	)

	pts := make([]opts.ScatterData, len(stats))
	for i, s := range stats {
		us := float64(s.CompileTime) / float64(time.Microsecond)
		pts[i] = opts.ScatterData{Name: s.Name, Value: []interface{}{s.IRInstructionCount, us}, SymbolSize: 8}
	}
	scatter.AddSeries("compile", pts)
	return render(filename, scatter)
}

// GenerateBackendRuntimeChart creates a line chart of average runtime per backend vs program size.
func GenerateBackendRuntimeChart(results []BackendBenchResult, config *ChartConfig, filename string) error {
	if config == nil {
		config = DefaultChartConfig()
	}
	series := make(map[string]map[int]int64)
	var sizes []int
	for _, r := range results {
		if series[r.Backend] == nil {
			series[r.Backend] = make(map[int]int64)
		}
		series[r.Backend][r.Instructions] = r.AvgNs
		if !slices.Contains(sizes, r.Instructions) {
			sizes = append(sizes, r.Instructions)
		}
	}
	slices.Sort(sizes)

	xs := make([]string, len(sizes))
	for i, n := range sizes {
		xs[i] = strconv.Itoa(n)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(config.initialization()),
		charts.WithTitleOpts(opts.Title{Title: "Backend Runtime"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Instructions"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Average Duration (µs)"}),
	)
	line.SetXAxis(xs)

	backends := make([]string, 0, len(series))
	for b := range series {
		backends = append(backends, b)
	}
	slices.Sort(backends)
	for _, b := range backends {
		data := make([]opts.LineData, len(sizes))
		for i, n := range sizes {
			data[i] = opts.LineData{Value: float64(series[b][n]) / float64(time.Microsecond)}
		}
		line.AddSeries(b, data)
	}
	return render(filename, line)
}

func render(filename string, chart components.Charter) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	page := components.NewPage()
	page.AddCharts(chart)
	if err := page.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
