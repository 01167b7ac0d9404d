package visualize

import (
	"html/template"
	"io"
	"os"
)

// PlotlyScript is the plotly.js bundle referenced by generated pages.
const PlotlyScript = "https://cdn.plot.ly/plotly-2.35.2.min.js"

var page = template.Must(template.New("figure").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.Script}}"></script>
</head>
<body>
<div id="figure"></div>
<script>
Plotly.newPlot("figure", {{.Figure.Data}}, {{.Figure.Layout}}, {{.Config}});
</script>
</body>
</html>
`))

// RenderHTML writes a standalone page that displays the figure.
func (f *Figure) RenderHTML(w io.Writer, title string, cfg Config) error {
	return page.Execute(w, struct {
		Title  string
		Script string
		Figure *Figure
		Config Config
	}{title, PlotlyScript, f, cfg})
}

// WriteHTML stores the page produced by RenderHTML at path.
func (f *Figure) WriteHTML(path, title string, cfg Config) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := f.RenderHTML(out, title, cfg); err != nil {
		return err
	}
	return out.Close()
}
