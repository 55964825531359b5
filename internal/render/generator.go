package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/tidbyt/gg"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// Frame geometry and encoding
const (
	Width       = 1280
	Height      = 720
	Format      = "jpeg"
	JPEGQuality = 80

	labelSize   = 48
	stampSize   = 20
	labelMargin = 20
	cropPadding = 15
	shapeAlpha  = 0.3
)

// Positions are the nine label anchors
var Positions = []string{
	"top-left",
	"top-middle",
	"top-right",
	"middle-left",
	"middle-center",
	"middle-right",
	"bottom-left",
	"bottom-middle",
	"bottom-right",
}

// Palette is the fixed set of colors used for gradients and shapes
var Palette = []models.NamedColor{
	{Hex: "#2C3E50", Name: "dark_blue_gray"},
	{Hex: "#34495E", Name: "charcoal_blue"},
	{Hex: "#5D6D7E", Name: "steel_gray"},
	{Hex: "#566573", Name: "slate_gray"},
	{Hex: "#1B2631", Name: "midnight_blue"},
	{Hex: "#212F3D", Name: "dark_navy"},
	{Hex: "#283747", Name: "gunmetal"},
	{Hex: "#17202A", Name: "charcoal_black"},
	{Hex: "#425468", Name: "storm_gray"},
	{Hex: "#4A5568", Name: "cool_gray"},
}

// Shape types
const (
	ShapeCircle    = "circle"
	ShapeRectangle = "rectangle"
	ShapeTriangle  = "triangle"
)

var shapeTypes = []string{ShapeCircle, ShapeRectangle, ShapeTriangle}

// Shape records a decorative shape drawn on the background
type Shape struct {
	Type   string            `json:"type"`
	X      int               `json:"x"`
	Y      int               `json:"y"`
	Size   int               `json:"size"`
	Color  models.NamedColor `json:"color"`
	Radius int               `json:"radius,omitempty"`
	Width  int               `json:"width,omitempty"`
	Height int               `json:"height,omitempty"`
	Base   int               `json:"base,omitempty"`
}

// Image is a generated frame with the metadata describing how it was drawn
type Image struct {
	DeviceID string
	Data     []byte
	Base64   string
	Position string
	Width    int
	Height   int
	Format   string
	Crop     models.TextCrop
	Colors   models.BackgroundColors
	Shapes   []Shape
}

// Size is the encoded byte size of the frame
func (img *Image) Size() int {
	return len(img.Data)
}

// Generator draws synthetic camera frames. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time

	labelFont *truetype.Font
	stampFont *truetype.Font
}

// Option configures a Generator
type Option func(*Generator)

// WithRand replaces the random source, mainly for tests
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

// WithClock replaces the clock used for the timestamp stamp
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator parses the embedded fonts and returns a ready generator
func NewGenerator(opts ...Option) (*Generator, error) {
	labelFont, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", err)
	}
	stampFont, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stamp font: %w", err)
	}

	g := &Generator{
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		labelFont: labelFont,
		stampFont: stampFont,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// plan holds every random decision for one frame so drawing can happen without the lock
type plan struct {
	position string
	colors   models.BackgroundColors
	shapes   []Shape
	stamp    string
}

func (g *Generator) newPlan() plan {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := plan{
		position: Positions[g.rng.Intn(len(Positions))],
		colors: models.BackgroundColors{
			Primary:   g.pickColor(),
			Secondary: g.pickColor(),
			Accent:    g.pickColor(),
		},
		stamp: g.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}

	count := g.rng.Intn(5) + 3
	p.shapes = make([]Shape, 0, count)
	for i := 0; i < count; i++ {
		c := g.pickColor()
		kind := shapeTypes[g.rng.Intn(len(shapeTypes))]
		x := g.rng.Float64() * Width
		y := g.rng.Float64() * Height
		size := g.rng.Float64()*100 + 50

		s := Shape{
			Type:  kind,
			X:     int(math.Round(x)),
			Y:     int(math.Round(y)),
			Size:  int(math.Round(size)),
			Color: c,
		}
		switch kind {
		case ShapeCircle:
			s.Radius = s.Size
		case ShapeRectangle:
			s.Width = s.Size
			s.Height = int(math.Round(size * 0.7))
		case ShapeTriangle:
			s.Base = int(math.Round(size * 2))
			s.Height = s.Size
		}
		p.shapes = append(p.shapes, s)
	}
	return p
}

func (g *Generator) pickColor() models.NamedColor {
	return Palette[g.rng.Intn(len(Palette))]
}

// Generate draws a new frame labelled with deviceID
func (g *Generator) Generate(deviceID string) (*Image, error) {
	p := g.newPlan()

	// Faces carry glyph caches and are not safe to share between goroutines
	labelFace := truetype.NewFace(g.labelFont, &truetype.Options{Size: labelSize})
	defer labelFace.Close()
	stampFace := truetype.NewFace(g.stampFont, &truetype.Options{Size: stampSize})
	defer stampFace.Close()

	dc := gg.NewContext(Width, Height)

	grad := gg.NewLinearGradient(0, 0, Width, Height)
	grad.AddColorStop(0, mustHex(p.colors.Primary.Hex))
	grad.AddColorStop(0.5, mustHex(p.colors.Secondary.Hex))
	grad.AddColorStop(1, mustHex(p.colors.Accent.Hex))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, Width, Height)
	dc.Fill()

	for _, s := range p.shapes {
		drawShape(dc, s)
	}

	dc.SetFontFace(stampFace)
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawString("Timestamp: "+p.stamp, labelMargin, Height-60)

	text := "Device: " + deviceID
	dc.SetFontFace(labelFace)
	textWidth, _ := dc.MeasureString(text)
	x, y := anchorCoordinates(p.position, textWidth, labelSize)

	dc.SetRGBA(0, 0, 0, 0.7)
	dc.DrawRectangle(x-10, y-labelSize-5, textWidth+20, labelSize+15)
	dc.Fill()

	drawOutlinedText(dc, text, x, y)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	crop := cropRect(x, y, textWidth, labelSize)
	crop.Position = p.position

	return &Image{
		DeviceID: deviceID,
		Data:     buf.Bytes(),
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Position: p.position,
		Width:    Width,
		Height:   Height,
		Format:   Format,
		Crop:     crop,
		Colors:   p.colors,
		Shapes:   p.shapes,
	}, nil
}

func drawShape(dc *gg.Context, s Shape) {
	c := mustHex(s.Color.Hex)
	dc.SetRGBA(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255, shapeAlpha)

	x, y, size := float64(s.X), float64(s.Y), float64(s.Size)
	switch s.Type {
	case ShapeCircle:
		dc.DrawCircle(x, y, size)
	case ShapeRectangle:
		dc.DrawRectangle(x, y, float64(s.Width), float64(s.Height))
	case ShapeTriangle:
		dc.MoveTo(x, y)
		dc.LineTo(x+size, y+size)
		dc.LineTo(x-size, y+size)
		dc.ClosePath()
	}
	dc.Fill()
}

// drawOutlinedText draws white text over a black outline
func drawOutlinedText(dc *gg.Context, text string, x, y float64) {
	const outline = 2
	dc.SetRGB(0, 0, 0)
	for dy := -outline; dy <= outline; dy++ {
		for dx := -outline; dx <= outline; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			dc.DrawString(text, x+float64(dx), y+float64(dy))
		}
	}
	dc.SetRGB(1, 1, 1)
	dc.DrawString(text, x, y)
}

// anchorCoordinates returns the text baseline origin for a position
func anchorCoordinates(position string, textWidth, textHeight float64) (float64, float64) {
	vertical, horizontal, _ := strings.Cut(position, "-")

	var x, y float64
	switch horizontal {
	case "left":
		x = labelMargin
	case "middle", "center":
		x = (Width - textWidth) / 2
	case "right":
		x = Width - textWidth - labelMargin
	}

	switch vertical {
	case "top":
		y = labelMargin + textHeight
	case "middle":
		y = (Height + textHeight) / 2
	case "bottom":
		y = Height - labelMargin
	}
	return x, y
}

// cropRect pads the label box and clamps it to the frame
func cropRect(x, y, textWidth, textHeight float64) models.TextCrop {
	left := clamp(x-cropPadding, 0, Width)
	top := clamp(y-textHeight-cropPadding, 0, Height)
	right := clamp(x+textWidth+cropPadding, 0, Width)
	bottom := clamp(y+cropPadding, 0, Height)

	l, t := int(math.Ceil(left)), int(math.Ceil(top))
	r, b := int(math.Floor(right)), int(math.Floor(bottom))
	if r < l {
		r = l
	}
	if b < t {
		b = t
	}
	return models.TextCrop{Left: l, Top: t, Width: r - l, Height: b - t}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func mustHex(hex string) color.RGBA {
	c, err := parseHex(hex)
	if err != nil {
		panic(err)
	}
	return c
}

func parseHex(hex string) (color.RGBA, error) {
	s := strings.TrimPrefix(hex, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color: %q", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color: %q", hex)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
