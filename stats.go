package boxlabel

// Annotation statistics and the statistics chart.

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// ClassStats are the statistics of one class.
type ClassStats struct {
	Name   string
	Boxes  int     // Number of boxes.
	Images int     // Number of images with at least one box of the class.
	MeanW  float64 // Mean box width in original pixels.
	StdW   float64
	MeanH  float64 // Mean box height in original pixels.
	StdH   float64
}

// Stats summarises a set of annotations.
type Stats struct {
	Images           int          // Annotation sets.
	AnnotatedImages  int          // Sets with at least one box.
	Boxes            int          // All boxes.
	UnknownSizeBoxes int          // Boxes of sets without original dimensions; not in the size stats.
	Classes          []ClassStats // In class table order.
}

// ComputeStats counts boxes per class, in the order of classes (unseen labels are added to it),
// and computes box size statistics in original image pixels for sets with known dimensions.
func ComputeStats(sets []AnnotationSet, canvas Canvas, classes *ClassTable) Stats {
	var s Stats
	widths := map[int][]float64{}
	heights := map[int][]float64{}
	boxes := map[int]int{}
	images := map[int]int{}

	for _, set := range sets {
		s.Images++
		if len(set.Annotations) > 0 {
			s.AnnotatedImages++
		}
		seen := map[int]bool{}
		for _, a := range set.Annotations {
			id := classes.ID(a.Label)
			s.Boxes++
			boxes[id]++
			if !seen[id] {
				seen[id] = true
				images[id]++
			}
			if !set.HasDimensions() {
				s.UnknownSizeBoxes++
				continue
			}
			r := canvas.ToOriginal(a.Rect, set.OriginalWidth, set.OriginalHeight)
			widths[id] = append(widths[id], float64(r.Dx()))
			heights[id] = append(heights[id], float64(r.Dy()))
		}
	}

	for id, name := range classes.Names() {
		cs := ClassStats{Name: name, Boxes: boxes[id], Images: images[id]}
		cs.MeanW, cs.StdW = meanStdDev(widths[id])
		cs.MeanH, cs.StdH = meanStdDev(heights[id])
		s.Classes = append(s.Classes, cs)
	}
	return s
}

// meanStdDev is stat.MeanStdDev with a zero deviation for fewer than two samples.
func meanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

// SortedByCount returns the class statistics ordered by descending box count, then name.
func (s Stats) SortedByCount() []ClassStats {
	sorted := append([]ClassStats(nil), s.Classes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Boxes != sorted[j].Boxes {
			return sorted[i].Boxes > sorted[j].Boxes
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

// RenderStatsChart renders a bar chart page of the box and image counts per class.
func RenderStatsChart(s Stats) ([]byte, error) {
	sorted := s.SortedByCount()
	names := make([]string, len(sorted))
	boxData := make([]opts.BarData, len(sorted))
	imageData := make([]opts.BarData, len(sorted))
	for i, c := range sorted {
		names[i] = c.Name
		boxData[i] = opts.BarData{Value: c.Boxes}
		imageData[i] = opts.BarData{Value: c.Images}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Annotation statistics",
			Subtitle: fmt.Sprintf("%d boxes in %d of %d images", s.Boxes, s.AnnotatedImages, s.Images),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("boxes", boxData,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("images", imageData,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render error: %v", err)
	}
	return buf.Bytes(), nil
}

// WriteStatsChart renders the statistics chart to an HTML file at path.
func WriteStatsChart(path string, s Stats) error {
	page, err := RenderStatsChart(s)
	if err != nil {
		return err
	}
	return writeFile(path, page)
}
