package visualize

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/nvr-ai/seedvision/table"
)

// ErrNotTwoClass is returned by NewTwoClassFigure for tables with more than two classes.
var ErrNotTwoClass = errors.New("two class figure needs at most two detection classes")

// Default class ids of the two button groups of NewTwoClassFigure.
const (
	DefaultFirstClass  = 1
	DefaultSecondClass = 2
)

// Figure is a plotly figure description.
type Figure struct {
	Data   []any  `json:"data"`
	Layout Layout `json:"layout"`
}

// Layout is the subset of the plotly layout used for box overlays.
type Layout struct {
	Shapes      []Shape       `json:"shapes"`
	Images      []LayoutImage `json:"images"`
	Margin      Margin        `json:"margin"`
	Width       float64       `json:"width"`
	Height      float64       `json:"height"`
	XAxis       Axis          `json:"xaxis"`
	YAxis       Axis          `json:"yaxis"`
	PlotBGColor string        `json:"plot_bgcolor"`
	UpdateMenus []UpdateMenu  `json:"updatemenus,omitempty"`
}

// Shape is a rectangle outline.
type Shape struct {
	Line Line    `json:"line"`
	Type string  `json:"type"`
	X0   float64 `json:"x0"`
	X1   float64 `json:"x1"`
	Y0   float64 `json:"y0"`
	Y1   float64 `json:"y1"`
}

// Line styles a shape outline.
type Line struct {
	Color string `json:"color"`
}

// LayoutImage places the source image behind the shapes.
type LayoutImage struct {
	Layer   string  `json:"layer"`
	Opacity float64 `json:"opacity"`
	SizeX   float64 `json:"sizex"`
	SizeY   float64 `json:"sizey"`
	Source  string  `json:"source"`
	X       float64 `json:"x"`
	XRef    string  `json:"xref"`
	Y       float64 `json:"y"`
	YRef    string  `json:"yref"`
}

// Margin of the plot area.
type Margin struct {
	B   int `json:"b"`
	L   int `json:"l"`
	R   int `json:"r"`
	T   int `json:"t"`
	Pad int `json:"pad"`
}

// Axis hides an axis and pins its range to the image.
type Axis struct {
	Range       []float64 `json:"range"`
	Visible     bool      `json:"visible"`
	ScaleAnchor string    `json:"scaleanchor,omitempty"`
}

// UpdateMenu is a group of buttons.
type UpdateMenu struct {
	Buttons []Button `json:"buttons"`
	Type    string   `json:"type"`
	Pad     Pad      `json:"pad"`
}

// Pad of a button group.
type Pad struct {
	R int `json:"r"`
}

// Button relayouts the figure when clicked; Args is ["shapes", []Shape].
type Button struct {
	Args   []any  `json:"args"`
	Label  string `json:"label"`
	Method string `json:"method"`
}

// Config controls the plotly mode bar.
type Config struct {
	DisplayLogo            bool     `json:"displaylogo"`
	DisplayModeBar         bool     `json:"displayModeBar"`
	ModeBarButtonsToRemove []string `json:"modeBarButtonsToRemove"`
}

// DefaultConfig hides the logo and the zoom, pan and autoscale buttons.
func DefaultConfig() Config {
	return Config{
		DisplayLogo:            false,
		DisplayModeBar:         true,
		ModeBarButtonsToRemove: []string{"zoomIn2d", "zoomOut2d", "pan2d", "autoScale2d"},
	}
}

// FigureOptions controls figure construction.
type FigureOptions struct {
	// Scale multiplies every coordinate and the figure size; 0 means 1.
	Scale float64
	// Palette of box colors; nil selects DefaultPalette.
	Palette []string
	// Source is the background image: a URL, a path relative to the HTML file, or a data URI.
	Source string
	// Groups holds the classes of the first and second button group of NewTwoClassFigure;
	// zero values select DefaultFirstClass and DefaultSecondClass.
	Groups [2]int
}

func (o FigureOptions) groups() [2]int {
	g := o.Groups
	if g[0] == 0 {
		g[0] = DefaultFirstClass
	}
	if g[1] == 0 {
		g[1] = DefaultSecondClass
	}
	return g
}

func (o FigureOptions) scale() float64 {
	if o.Scale <= 0 {
		return 1
	}
	return o.Scale
}

// NewFigure overlays the rows of t on the source image.
//
// Rows are colored per class and emitted in class order. The y axis of the figure grows
// upwards, so tables are expected to be flipped for boxes to land on the image.
func NewFigure(t *table.Table, opts FigureOptions) (*Figure, error) {
	colored, err := AssignColors(t, opts.Palette)
	if err != nil {
		return nil, err
	}

	s := opts.scale()
	w, h := float64(t.Width)*s, float64(t.Height)*s

	shapes := make([]Shape, 0, len(colored.Rows))
	for _, r := range colored.Rows {
		shapes = append(shapes, shapeOf(r, s))
	}

	return &Figure{
		Data: []any{},
		Layout: Layout{
			Shapes: shapes,
			Images: []LayoutImage{{
				Layer:   "below",
				Opacity: 1.0,
				SizeX:   w,
				SizeY:   h,
				Source:  opts.Source,
				X:       0,
				XRef:    "x",
				Y:       h,
				YRef:    "y",
			}},
			Margin:      Margin{Pad: 4},
			Width:       w,
			Height:      h,
			XAxis:       Axis{Range: []float64{0, w}},
			YAxis:       Axis{Range: []float64{0, h}, ScaleAnchor: "x"},
			PlotBGColor: "rgba(0,0,0,0)",
		},
	}, nil
}

// NewTwoClassFigure is NewFigure plus toggle buttons.
//
// Each detection gets a button that shows only its box. Buttons are grouped by the class ids
// of opts.Groups; the first group is led by "All" (every box) and the second by "None" (no
// boxes). Both groups are always present, even when the table lacks one of the classes. A
// class outside opts.Groups returns ErrNotTwoClass.
func NewTwoClassFigure(t *table.Table, opts FigureOptions) (*Figure, error) {
	ids := opts.groups()
	for _, class := range t.Classes() {
		if class != ids[0] && class != ids[1] {
			return nil, fmt.Errorf("%w: class %d", ErrNotTwoClass, class)
		}
	}

	fig, err := NewFigure(t, opts)
	if err != nil {
		return nil, err
	}

	colored, err := AssignColors(t, opts.Palette)
	if err != nil {
		return nil, err
	}

	s := opts.scale()
	groups := make([][]Button, 2)
	for _, r := range colored.Rows {
		g := 0
		if r.Class == ids[1] {
			g = 1
		}
		groups[g] = append(groups[g], Button{
			Args:   []any{"shapes", []Shape{shapeOf(r, s)}},
			Label:  r.Label,
			Method: "relayout",
		})
	}

	all := Button{Args: []any{"shapes", fig.Layout.Shapes}, Label: "All", Method: "relayout"}
	none := Button{Args: []any{"shapes", []Shape{}}, Label: "None", Method: "relayout"}
	groups[0] = append([]Button{all}, groups[0]...)
	groups[1] = append([]Button{none}, groups[1]...)

	fig.Layout.UpdateMenus = []UpdateMenu{
		{Buttons: groups[1], Type: "buttons", Pad: Pad{R: 1}},
		{Buttons: groups[0], Type: "buttons", Pad: Pad{R: 60}},
	}

	return fig, nil
}

func shapeOf(r table.Row, scale float64) Shape {
	return Shape{
		Line: Line{Color: r.Color},
		Type: "rect",
		X0:   r.XMin * scale,
		X1:   r.XMax * scale,
		Y0:   r.YMin * scale,
		Y1:   r.YMax * scale,
	}
}

// WriteJSON stores the figure as plotly JSON.
func (f *Figure) WriteJSON(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
