package comparison

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math"
	"os"
	"sort"
	"sync"

	_ "image/jpeg"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/config"
	"github.com/GrainArc/PlotMatch/embedding"
	"github.com/GrainArc/PlotMatch/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DeepFeatureComparator matches by learned visual features: one embedding
// per image, scored by cosine similarity. Catalog images are immutable
// after load, so their embeddings are extracted at most once per plot
// regardless of concurrent callers.
type DeepFeatureComparator struct {
	Cfg    *config.Config
	Client *embedding.Client

	cache sync.Map // plot mask path -> []float64
	group singleflight.Group
}

func NewDeepFeatureComparator(cfg *config.Config, client *embedding.Client) *DeepFeatureComparator {
	return &DeepFeatureComparator{Cfg: cfg, Client: client}
}

func (d *DeepFeatureComparator) Name() string {
	return models.MethodDeepFeature
}

// Available reflects the extractor service health check.
func (d *DeepFeatureComparator) Available() bool {
	return d.Client.Available()
}

func (d *DeepFeatureComparator) Compare(ctx context.Context, village *catalog.Village, q *Query) ([]Result, error) {
	if !d.Available() {
		return nil, apperrors.Capabilityf("embedding extractor service is not available")
	}
	if q.ImagePath == "" {
		return nil, apperrors.Validationf("deep-feature comparison requires a query image")
	}

	refFeatures, err := d.Client.EmbedFile(ctx, q.ImagePath)
	if err != nil {
		return nil, classifyEmbedErr(err)
	}

	results := make([]Result, len(village.Plots))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(d.Cfg.Workers)
	for i := range village.Plots {
		i := i
		plot := village.Plots[i]
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sim := 0.0
			if plot.ImagePath != "" {
				features, err := d.plotEmbedding(ctx, plot)
				if err != nil {
					return err
				}
				sim = cosineSimilarity(refFeatures, features)
			}
			results[i] = Result{
				Filename:   plot.Filename,
				SubVillage: plot.SubVillage,
				Similarity: f64ptr(sim),
				plotIndex:  plot.Index,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeoutf("deep-feature comparison timed out")
		}
		return nil, classifyEmbedErr(err)
	}

	sort.SliceStable(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if *ra.Similarity != *rb.Similarity {
			return *ra.Similarity > *rb.Similarity
		}
		return ra.plotIndex < rb.plotIndex
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// plotEmbedding returns the cached embedding for a catalog plot image,
// extracting it exactly once. The archive images are stored upside down
// relative to the reference rendering, so they are flipped vertically
// before extraction, matching the orientation the query is rendered in.
func (d *DeepFeatureComparator) plotEmbedding(ctx context.Context, plot catalog.ReferencePlot) ([]float64, error) {
	if cached, ok := d.cache.Load(plot.MaskPath); ok {
		return cached.([]float64), nil
	}
	res, err, _ := d.group.Do(plot.MaskPath, func() (interface{}, error) {
		data, err := flipImageVertically(plot.ImagePath)
		if err != nil {
			return nil, err
		}
		features, err := d.Client.EmbedBytes(ctx, data, plot.Filename+".png")
		if err != nil {
			return nil, err
		}
		d.cache.Store(plot.MaskPath, features)
		return features, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]float64), nil
}

// flipImageVertically decodes an image file, mirrors it top-bottom and
// re-encodes it as PNG bytes.
func flipImageVertically(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	flipped := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			flipped.Set(x, b.Dy()-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, flipped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func classifyEmbedErr(err error) error {
	if apperrors.KindOf(err) != apperrors.KindComputation {
		return err
	}
	return apperrors.Wrap(apperrors.KindComputation, err, "embedding extraction failed")
}

// cosineSimilarity computes the cosine similarity between two vectors.
// A higher value indicates greater similarity; zero or mismatched vectors
// score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}
