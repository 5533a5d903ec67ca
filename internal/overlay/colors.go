package overlay

import "image/color"

var (
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}   // #00FF00
	Red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}   // #FF0000
	Blue   = color.RGBA{R: 0, G: 0, B: 255, A: 255}   // #0000FF
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}     // #000000
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255} // #FFFF00
)

// Style describes how connectors or landmarks are painted.
type Style struct {
	Color     color.RGBA
	FillColor color.RGBA
	LineWidth int
	Radius    int
}

// ConnectorStyle is used for skeleton edges.
var ConnectorStyle = Style{
	Color:     Green,
	LineWidth: 2,
}

// LandmarkStyle is used for individual landmark points.
var LandmarkStyle = Style{
	Color:     Red,
	FillColor: Red,
	LineWidth: 1,
	Radius:    2,
}
