// Command xmlview shows an image with the boxes of its LabelImg XML annotation, to check
// exported annotations by eye.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nvr-ai/seedvision/annotation"
	"github.com/nvr-ai/seedvision/visualize"
	"gocv.io/x/gocv"
)

func main() {
	var (
		imagePath string
		xmlDir    string
		thickness int
	)
	flag.StringVar(&imagePath, "image", "", "Path to the annotated image")
	flag.StringVar(&xmlDir, "xml-dir", ".", "Directory holding <image name>.xml")
	flag.IntVar(&thickness, "thickness", 3, "Box outline thickness")
	flag.Parse()

	if imagePath == "" {
		fmt.Println("usage: xmlview -image plate1_1.jpg [-xml-dir dir]")
		os.Exit(2)
	}

	xmlPath := annotation.OutputPath(imagePath, xmlDir)
	f, err := os.Open(xmlPath)
	if err != nil {
		fmt.Printf("Error opening annotation: %v\n", err)
		return
	}
	ann, err := annotation.Decode(f)
	f.Close()
	if err != nil {
		fmt.Println(err)
		return
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		fmt.Printf("Error reading image: %s\n", imagePath)
		return
	}
	defer img.Close()

	colors := make(map[string]color.RGBA)
	for _, obj := range ann.Objects {
		c, ok := colors[obj.Name]
		if !ok {
			c = boxColor(len(colors))
			colors[obj.Name] = c
		}

		b := obj.BndBox
		gocv.Rectangle(&img, image.Rect(b.XMin, b.YMin, b.XMax, b.YMax), c, thickness)
		gocv.PutText(&img, obj.Name, image.Pt(b.XMin, b.YMin-4), gocv.FontHersheyPlain, 1.2, c, 2)
	}
	fmt.Printf("%s: %d objects, %d classes\n", filepath.Base(xmlPath), len(ann.Objects), len(colors))

	window := gocv.NewWindow(filepath.Base(imagePath))
	defer window.Close()

	window.IMShow(img)
	window.WaitKey(0)
}

// boxColor returns the i-th palette color, wrapping around.
func boxColor(i int) color.RGBA {
	c, err := colorful.Hex(visualize.DefaultPalette[i%len(visualize.DefaultPalette)])
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
