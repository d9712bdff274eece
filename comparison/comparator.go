package comparison

import (
	"context"

	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/models"
)

// Query is a resolved comparison input: either a catalog feature index or
// an uploaded image, with the derived mask and display image both present
// before dispatch.
type Query struct {
	Kind  string // models.QueryByIndex or models.QueryByImage
	Index int    // valid when Kind == QueryByIndex

	Mask      *Mask  // rasterized query shape
	ImagePath string // rendered reference image (or the upload itself)
}

// Result is one ranked comparison outcome. Method-specific score fields are
// pointers so the serialized form carries only the fields the method
// produced.
type Result struct {
	Rank       int    `json:"rank"`
	Filename   string `json:"filename"`
	SubVillage string `json:"sub_village"`

	IoU       *float64 `json:"iou,omitempty"`
	Hausdorff *float64 `json:"hausdorff,omitempty"`
	Transform string   `json:"transform,omitempty"`

	Similarity *float64 `json:"similarity,omitempty"`

	plotIndex int
}

// PrimaryScore is the value the method ranks and thresholds by.
func (r Result) PrimaryScore(method string) float64 {
	if method == models.MethodDeepFeature {
		if r.Similarity != nil {
			return *r.Similarity
		}
		return 0
	}
	if r.IoU != nil {
		return *r.IoU
	}
	return 0
}

// Comparator scores a query against every reference plot of a village and
// returns the results ranked 1..N. Implementations are pure computations
// over immutable inputs and safe for concurrent use.
type Comparator interface {
	Name() string
	// Available reports whether the method can run right now; re-checked
	// at request time, not only at startup.
	Available() bool
	Compare(ctx context.Context, village *catalog.Village, q *Query) ([]Result, error)
}

func f64ptr(v float64) *float64 {
	return &v
}
