package comparison

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/config"
	"github.com/GrainArc/PlotMatch/models"
	"golang.org/x/sync/errgroup"
)

// Transform is one candidate alignment: a flip combination plus a pixel
// translation. The archive masks were digitized with inconsistent
// orientation, so flips carry most of the signal; the vertical flip is the
// historically common scan orientation and is preferred inside the
// configured tolerances.
type Transform struct {
	Name  string
	FlipH bool
	FlipV bool
	DX    int
	DY    int
}

func (t Transform) apply(m *Mask) *Mask {
	out := m
	if t.FlipH && t.FlipV {
		out = out.FlipH().FlipV()
	} else if t.FlipH {
		out = out.FlipH()
	} else if t.FlipV {
		out = out.FlipV()
	}
	if t.DX != 0 || t.DY != 0 {
		out = out.Translate(t.DX, t.DY)
	}
	return out
}

// plotScore is the per-target outcome: the metrics of the winning transform.
type plotScore struct {
	IoU       float64
	Hausdorff float64
	Transform string
}

// GeometricComparator matches by shape: overlap ratio plus worst-case
// boundary separation over a bounded candidate transform set.
type GeometricComparator struct {
	Cfg *config.Config
}

func NewGeometricComparator(cfg *config.Config) *GeometricComparator {
	return &GeometricComparator{Cfg: cfg}
}

func (g *GeometricComparator) Name() string {
	return models.MethodGeometric
}

// Available is always true: the geometric method has no external
// dependencies.
func (g *GeometricComparator) Available() bool {
	return true
}

func (g *GeometricComparator) Compare(ctx context.Context, village *catalog.Village, q *Query) ([]Result, error) {
	if q.Mask == nil {
		return nil, apperrors.Validationf("geometric comparison requires a query mask")
	}
	refBoundary := q.Mask.Boundary(g.Cfg.MaxBoundaryPoints)
	candidates := g.candidateTransforms()

	results := make([]Result, len(village.Plots))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(g.Cfg.Workers)
	for i := range village.Plots {
		i := i
		plot := village.Plots[i]
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mask, err := LoadDat(plot.MaskPath, g.Cfg.ImageSize)
			if err != nil {
				return err
			}
			score := g.scoreMasks(q.Mask, refBoundary, mask, candidates)
			results[i] = Result{
				Filename:   plot.Filename,
				SubVillage: plot.SubVillage,
				IoU:        f64ptr(score.IoU),
				Hausdorff:  f64ptr(score.Hausdorff),
				Transform:  score.Transform,
				plotIndex:  plot.Index,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeoutf("geometric comparison timed out")
		}
		return nil, err
	}

	sort.SliceStable(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if *ra.IoU != *rb.IoU {
			return *ra.IoU > *rb.IoU
		}
		if *ra.Hausdorff != *rb.Hausdorff {
			return *ra.Hausdorff < *rb.Hausdorff
		}
		return ra.plotIndex < rb.plotIndex
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// candidateTransforms builds the bounded alignment search set: the four
// flip combinations, each at a grid of translation offsets inside the
// padding margin, capped at MaxTransforms.
func (g *GeometricComparator) candidateTransforms() []Transform {
	flips := []Transform{
		{Name: "Original"},
		{Name: "Flipped Horizontally", FlipH: true},
		{Name: "Flipped Vertically", FlipV: true},
		{Name: "Flipped Both", FlipH: true, FlipV: true},
	}
	if g.Cfg.TranslationSteps <= 0 {
		return flips
	}

	margin := int(g.Cfg.PaddingRatio * float64(g.Cfg.ImageSize))
	var out []Transform
	for _, f := range flips {
		out = append(out, f)
	}
	for s := 1; s <= g.Cfg.TranslationSteps; s++ {
		off := s * g.Cfg.TranslationStride
		if off > margin {
			break
		}
		for _, d := range [][2]int{{off, 0}, {-off, 0}, {0, off}, {0, -off}} {
			for _, f := range flips {
				t := f
				t.DX, t.DY = d[0], d[1]
				t.Name = fmt.Sprintf("%s (dx=%d, dy=%d)", f.Name, t.DX, t.DY)
				out = append(out, t)
				if len(out) >= g.Cfg.MaxTransforms {
					return out
				}
			}
		}
	}
	return out
}

// scoreMasks evaluates every candidate transform of the target mask against
// the reference and keeps the one maximizing IoU, ties broken by the
// smaller Hausdorff distance. A plain vertical flip within the configured
// tolerances of the winner is preferred over it.
func (g *GeometricComparator) scoreMasks(ref *Mask, refBoundary [][2]int, comp *Mask, candidates []Transform) plotScore {
	maxDist := 2.0 * float64(ref.Size)

	best := plotScore{IoU: -1, Hausdorff: maxDist}
	var vertical *plotScore
	for _, cand := range candidates {
		transformed := cand.apply(comp)
		iou := maskIoU(ref, transformed)
		haus := symmetricHausdorff(refBoundary, transformed.Boundary(g.Cfg.MaxBoundaryPoints), maxDist)
		score := plotScore{IoU: iou, Hausdorff: haus, Transform: cand.Name}
		if iou > best.IoU || (iou == best.IoU && haus < best.Hausdorff) {
			best = score
		}
		if cand.Name == "Flipped Vertically" {
			v := score
			vertical = &v
		}
	}

	if vertical != nil && best.Transform != vertical.Transform {
		if best.IoU-vertical.IoU <= g.Cfg.IoUTolerance &&
			vertical.Hausdorff <= best.Hausdorff+g.Cfg.HausdorffTolerance {
			best = *vertical
		}
	}
	return best
}

// maskIoU is intersection over union of two binary masks of the same size.
// Two empty masks count as a perfect overlap.
func maskIoU(a, b *Mask) float64 {
	var inter, union int
	for i := range a.Pix {
		av, bv := a.Pix[i], b.Pix[i]
		if av != 0 && bv != 0 {
			inter++
		}
		if av != 0 || bv != 0 {
			union++
		}
	}
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

// symmetricHausdorff is the maximum of the two directed closest-point
// distances between boundary point sets. Empty sets score the sentinel
// maxDist so shapeless targets rank last.
func symmetricHausdorff(a, b [][2]int, maxDist float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return maxDist
	}
	d1 := directedHausdorff(a, b)
	d2 := directedHausdorff(b, a)
	return math.Max(d1, d2)
}

func directedHausdorff(from, to [][2]int) float64 {
	var worst float64
	for _, p := range from {
		closest := math.Inf(1)
		for _, q := range to {
			d := math.Hypot(float64(p[0]-q[0]), float64(p[1]-q[1]))
			if d < closest {
				closest = d
			}
		}
		if closest > worst {
			worst = closest
		}
	}
	return worst
}
