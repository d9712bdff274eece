// Package comparison implements the two matching strategies and the engine
// that dispatches a request to one of them and records the run as a session.
package comparison

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"
	"strconv"

	_ "image/jpeg"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/paulmach/orb"
)

// Mask is a square binary grid, value 1 inside the plot shape.
type Mask struct {
	Size int
	Pix  []uint8
}

func NewMask(size int) *Mask {
	return &Mask{Size: size, Pix: make([]uint8, size*size)}
}

func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Size+x]
}

func (m *Mask) Set(x, y int, v uint8) {
	m.Pix[y*m.Size+x] = v
}

// Any reports whether the mask contains at least one filled pixel.
func (m *Mask) Any() bool {
	for _, p := range m.Pix {
		if p != 0 {
			return true
		}
	}
	return false
}

// FlipH mirrors the mask left-right.
func (m *Mask) FlipH() *Mask {
	out := NewMask(m.Size)
	for y := 0; y < m.Size; y++ {
		for x := 0; x < m.Size; x++ {
			out.Set(m.Size-1-x, y, m.At(x, y))
		}
	}
	return out
}

// FlipV mirrors the mask top-bottom.
func (m *Mask) FlipV() *Mask {
	out := NewMask(m.Size)
	for y := 0; y < m.Size; y++ {
		copy(out.Pix[(m.Size-1-y)*m.Size:(m.Size-y)*m.Size], m.Pix[y*m.Size:(y+1)*m.Size])
	}
	return out
}

// Translate shifts the mask by (dx, dy); pixels shifted outside are dropped.
func (m *Mask) Translate(dx, dy int) *Mask {
	out := NewMask(m.Size)
	for y := 0; y < m.Size; y++ {
		ny := y + dy
		if ny < 0 || ny >= m.Size {
			continue
		}
		for x := 0; x < m.Size; x++ {
			if m.At(x, y) == 0 {
				continue
			}
			nx := x + dx
			if nx < 0 || nx >= m.Size {
				continue
			}
			out.Set(nx, ny, 1)
		}
	}
	return out
}

// Boundary returns up to maxPoints boundary pixels (filled pixels with an
// empty 4-neighbour or on the grid edge), stride-sampled deterministically.
func (m *Mask) Boundary(maxPoints int) [][2]int {
	var pts [][2]int
	for y := 0; y < m.Size; y++ {
		for x := 0; x < m.Size; x++ {
			if m.At(x, y) == 0 {
				continue
			}
			if x == 0 || y == 0 || x == m.Size-1 || y == m.Size-1 ||
				m.At(x-1, y) == 0 || m.At(x+1, y) == 0 ||
				m.At(x, y-1) == 0 || m.At(x, y+1) == 0 {
				pts = append(pts, [2]int{x, y})
			}
		}
	}
	if maxPoints > 0 && len(pts) > maxPoints {
		sampled := make([][2]int, 0, maxPoints)
		stride := float64(len(pts)) / float64(maxPoints)
		for i := 0; i < maxPoints; i++ {
			sampled = append(sampled, pts[int(float64(i)*stride)])
		}
		return sampled
	}
	return pts
}

// RasterizeRing normalizes a plot boundary to the unit square, pads it
// toward the center and fills it into a size x size mask.
func RasterizeRing(ring orb.Ring, size int, paddingRatio float64) (*Mask, error) {
	if len(ring) < 3 {
		return nil, apperrors.Validationf("need at least 3 coordinates to build a mask")
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range ring {
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}

	scale := 1.0 - 2*paddingRatio
	if scale < 0 {
		scale = 0
	}

	xs := make([]float64, len(ring))
	ys := make([]float64, len(ring))
	for i, p := range ring {
		// Normalize, pad toward (0.5, 0.5), then scale onto the grid.
		nx := 0.5 + ((p[0]-minX)/rangeX-0.5)*scale
		ny := 0.5 + ((p[1]-minY)/rangeY-0.5)*scale
		xs[i] = clamp01(nx) * float64(size-1)
		ys[i] = clamp01(ny) * float64(size-1)
	}

	mask := NewMask(size)
	fillPolygon(mask, xs, ys)
	if !mask.Any() {
		return nil, apperrors.Validationf("rasterized mask is empty")
	}
	return mask, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fillPolygon is an even-odd scanline fill sampling at pixel centers.
func fillPolygon(m *Mask, xs, ys []float64) {
	n := len(xs)
	for y := 0; y < m.Size; y++ {
		yc := float64(y) + 0.5
		var crossings []float64
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			y1, y2 := ys[i], ys[j]
			if y1 == y2 {
				continue
			}
			if (y1 <= yc && yc < y2) || (y2 <= yc && yc < y1) {
				t := (yc - y1) / (y2 - y1)
				crossings = append(crossings, xs[i]+t*(xs[j]-xs[i]))
			}
		}
		sort.Float64s(crossings)
		for k := 0; k+1 < len(crossings); k += 2 {
			x0 := int(math.Ceil(crossings[k] - 0.5))
			x1 := int(math.Floor(crossings[k+1] - 0.5))
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= m.Size {
				x1 = m.Size - 1
			}
			for x := x0; x <= x1; x++ {
				m.Set(x, y, 1)
			}
		}
	}
}

// LoadDat reads a whitespace-separated 0/1 grid and resizes it to size with
// nearest-neighbour sampling when the stored grid differs.
func LoadDat(path string, size int) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindComputation, err, "error loading %s", path)
	}
	defer f.Close()

	var rows [][]uint8
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		var row []uint8
		start := -1
		for i := 0; i <= len(line); i++ {
			if i < len(line) && line[i] != ' ' && line[i] != '\t' {
				if start < 0 {
					start = i
				}
				continue
			}
			if start >= 0 {
				v, err := strconv.ParseFloat(line[start:i], 64)
				if err != nil {
					return nil, apperrors.Wrap(apperrors.KindComputation, err, "bad value in %s", path)
				}
				if v > 0 {
					row = append(row, 1)
				} else {
					row = append(row, 0)
				}
				start = -1
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindComputation, err, "error reading %s", path)
	}
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.KindComputation, fmt.Sprintf("empty mask file %s", path))
	}

	h, w := len(rows), len(rows[0])
	mask := NewMask(size)
	for y := 0; y < size; y++ {
		sy := y * h / size
		for x := 0; x < size; x++ {
			sx := x * w / size
			if sx < len(rows[sy]) && rows[sy][sx] != 0 {
				mask.Set(x, y, 1)
			}
		}
	}
	return mask, nil
}

// MaskFromImage thresholds an uploaded query image (dark shape on light
// background) into a binary mask at the working grid size.
func MaskFromImage(path string, size int) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindComputation, err, "error opening image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "error decoding image %s", path)
	}

	b := img.Bounds()
	mask := NewMask(size)
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*b.Dy()/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*b.Dx()/size
			g := color.GrayModel.Convert(img.At(sx, sy)).(color.Gray)
			if g.Y < 128 {
				mask.Set(x, y, 1)
			}
		}
	}
	if !mask.Any() {
		return nil, apperrors.Validationf("uploaded image contains no shape")
	}
	return mask, nil
}

// SavePNG writes the mask as a black shape on white, the display form used
// for reference images and embedding input.
func (m *Mask) SavePNG(path string) error {
	img := image.NewGray(image.Rect(0, 0, m.Size, m.Size))
	for y := 0; y < m.Size; y++ {
		for x := 0; x < m.Size; x++ {
			if m.At(x, y) != 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
