// Package chart renders score series to PNG and owns one rendering handle
// per model.
package chart

import (
	"bytes"
	"errors"
	"io"
	"sync"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bcrosbie/evalboard/internal/series"
)

var (
	ErrNoData   = errors.New("chart: no series to draw")
	ErrReleased = errors.New("chart: handle already released")
	ErrClosed   = errors.New("chart: table closed")
)

const (
	defaultWidth  = 960
	defaultHeight = 420
)

var palette = []drawing.Color{
	gochart.ColorBlue,
	gochart.ColorGreen,
	gochart.ColorRed,
	gochart.ColorOrange,
	gochart.ColorCyan,
	gochart.ColorAlternateGray,
	gochart.ColorYellow,
}

// Handle draws one model's chart. It is acquired from a Table and stays
// usable until the Table releases it.
type Handle struct {
	modelID string
	width   int
	height  int

	mu       sync.Mutex
	released bool
	last     []byte
}

func (h *Handle) ModelID() string {
	return h.modelID
}

// Render draws result as PNG into w and keeps a copy for Last.
func (h *Handle) Render(result series.Result, w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}

	var buf bytes.Buffer
	if err := draw(h.modelID, result, h.width, h.height, &buf); err != nil {
		return err
	}
	h.last = buf.Bytes()
	_, err := w.Write(h.last)
	return err
}

// Last returns the most recent PNG, or nil before the first render.
func (h *Handle) Last() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return bytes.Clone(h.last)
}

func (h *Handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	h.last = nil
	return true
}

func draw(title string, result series.Result, width, height int, w io.Writer) error {
	if len(result.Series) == 0 || len(result.Dates) == 0 {
		return ErrNoData
	}

	ticks := make([]gochart.Tick, len(result.Dates))
	for i, date := range result.Dates {
		ticks[i] = gochart.Tick{Value: float64(i), Label: date}
	}

	// Absent slots are left out, so lines join the points that exist.
	lines := make([]gochart.Series, 0, len(result.Series))
	yMin, yMax := 0.0, 1.0
	for i, s := range result.Series {
		xs := make([]float64, 0, len(s.Data))
		ys := make([]float64, 0, len(s.Data))
		for j, v := range s.Data {
			if !v.Valid {
				continue
			}
			xs = append(xs, float64(j))
			ys = append(ys, v.Value)
			yMin = min(yMin, v.Value)
			yMax = max(yMax, v.Value)
		}
		if len(xs) == 0 {
			continue
		}
		lines = append(lines, gochart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			Style:   lineStyle(palette[i%len(palette)]),
		})
	}
	if len(lines) == 0 {
		return ErrNoData
	}

	graph := gochart.Chart{
		Title:      title,
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: gochart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16}},
		XAxis: gochart.XAxis{
			Name:  "date",
			Range: &gochart.ContinuousRange{Min: -0.5, Max: float64(len(result.Dates)) - 0.5},
			Ticks: ticks,
		},
		YAxis: gochart.YAxis{
			Name:  "score",
			Range: &gochart.ContinuousRange{Min: yMin, Max: yMax},
		},
		Series: lines,
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	return graph.Render(gochart.PNG, w)
}

func lineStyle(col drawing.Color) gochart.Style {
	return gochart.Style{
		StrokeWidth: 2,
		StrokeColor: col,
		DotWidth:    3,
		DotColor:    col,
	}
}
