// Package catalog loads and caches the per-village archive: shapefile
// features on the query side, reference plot masks and images on the
// comparison side. A village is loaded lazily on first access and is
// immutable afterwards; re-ingestion means restarting the service.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	shp "gitee.com/LJ_COOL/go-shp"
	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/paulmach/orb"
	"golang.org/x/sync/singleflight"
)

// Metadata is the closed set of identifying attributes a shapefile feature
// may carry. None is guaranteed present.
type Metadata struct {
	ID       string `json:"id,omitempty"`
	PlotID   string `json:"plot_id,omitempty"`
	SurveyNo string `json:"survey_no,omitempty"`
	PlotNo   string `json:"plot_no,omitempty"`
	Number   string `json:"number,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Label returns the display label for a feature: the first known metadata
// value, or "Feature {index}" when none is present.
func (m Metadata) Label(index int) string {
	for _, v := range []string{m.SurveyNo, m.PlotNo, m.PlotID, m.ID, m.Number, m.Name} {
		if v != "" {
			return v
		}
	}
	return fmt.Sprintf("Feature %d", index)
}

// PlotFeature is one query-side shapefile feature. Indices are dense,
// 0..count-1, in shapefile order.
type PlotFeature struct {
	Index    int
	Geometry orb.Ring
	Meta     Metadata
}

// ReferencePlot is one comparison target: a rasterized plot mask plus its
// optional source image, scoped to a sub-village.
type ReferencePlot struct {
	Index      int
	Filename   string // base name without extension
	SubVillage string
	MaskPath   string
	ImagePath  string // empty when no image asset exists
}

type Village struct {
	Name        string
	Features    []PlotFeature
	SubVillages []string
	Plots       []ReferencePlot
	FullMapPath string // empty when no composite map exists
	root        string
}

func (v *Village) HasFullMap() bool {
	return v.FullMapPath != ""
}

// FindPlotImage locates the display image for a matched plot, trying the
// folder variants the archive has accumulated over time.
func (v *Village) FindPlotImage(subVillage, base string) string {
	exts := []string{".png", ".jpg", ".jpeg"}
	folders := []string{"contours", "contour", "", "enhanced"}
	subs := append([]string{subVillage}, v.SubVillages...)
	for _, sub := range subs {
		for _, ext := range exts {
			for _, folder := range folders {
				p := filepath.Join(v.root, v.Name, "plots", sub, folder, base+ext)
				if _, err := os.Stat(p); err == nil {
					return p
				}
			}
		}
	}
	return ""
}

// Structure is the shallow description of a village the UI navigates by.
type Structure struct {
	NumFeatures int
	SubVillages []string
	HasFullMap  bool
}

// Index answers village lookups from the maps directory. First load per
// village runs exactly once even under concurrent access.
type Index struct {
	root string

	mu       sync.RWMutex
	villages map[string]*Village
	group    singleflight.Group
}

func NewIndex(root string) *Index {
	return &Index{
		root:     root,
		villages: make(map[string]*Village),
	}
}

// ListVillages scans the maps directory for entries with the expected
// archive layout (a dat_folder and a *_panda shapefile folder).
func (ix *Index) ListVillages() ([]string, error) {
	entries, err := os.ReadDir(ix.root)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "maps directory %q not readable", ix.root)
	}
	villages := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(ix.root, e.Name(), "dat_folder")); err != nil {
			continue
		}
		if findPandaFolder(filepath.Join(ix.root, e.Name())) == "" {
			continue
		}
		villages = append(villages, e.Name())
	}
	sort.Strings(villages)
	return villages, nil
}

// Village returns the loaded village, loading and memoizing it on first
// access. Concurrent first access shares a single load.
func (ix *Index) Village(name string) (*Village, error) {
	ix.mu.RLock()
	v, ok := ix.villages[name]
	ix.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := ix.group.Do(name, func() (interface{}, error) {
		loaded, err := loadVillage(ix.root, name)
		if err != nil {
			return nil, err
		}
		ix.mu.Lock()
		ix.villages[name] = loaded
		ix.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Village), nil
}

// Structure reports feature count, sub-villages and composite map presence.
func (ix *Index) Structure(name string) (*Structure, error) {
	v, err := ix.Village(name)
	if err != nil {
		return nil, err
	}
	return &Structure{
		NumFeatures: len(v.Features),
		SubVillages: v.SubVillages,
		HasFullMap:  v.HasFullMap(),
	}, nil
}

// Feature returns the feature at index, failing with OutOfRange outside
// [0, featureCount-1].
func (ix *Index) Feature(name string, index int) (*PlotFeature, error) {
	v, err := ix.Village(name)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(v.Features) {
		return nil, apperrors.OutOfRangef("index %d out of range. Available: 0-%d", index, len(v.Features)-1)
	}
	return &v.Features[index], nil
}

func findPandaFolder(villagePath string) string {
	entries, err := os.ReadDir(villagePath)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_panda") {
			return filepath.Join(villagePath, e.Name())
		}
	}
	return ""
}

func findShapefile(pandaFolder string) string {
	entries, err := os.ReadDir(pandaFolder)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".shp") {
			return filepath.Join(pandaFolder, e.Name())
		}
	}
	return ""
}

func loadVillage(root, name string) (*Village, error) {
	villagePath := filepath.Join(root, name)
	if info, err := os.Stat(villagePath); err != nil || !info.IsDir() {
		return nil, apperrors.NotFoundf("village %s not found", name)
	}

	datFolder := filepath.Join(villagePath, "dat_folder")
	subVillages, err := scanSubVillages(datFolder)
	if err != nil {
		return nil, err
	}
	if len(subVillages) == 0 {
		return nil, apperrors.NotFoundf("no sub-villages found in %s", name)
	}

	pandaFolder := findPandaFolder(villagePath)
	if pandaFolder == "" {
		return nil, apperrors.NotFoundf("no panda folder found for %s", name)
	}
	shapefilePath := findShapefile(pandaFolder)
	if shapefilePath == "" {
		return nil, apperrors.NotFoundf("no shapefile found in %s", pandaFolder)
	}

	features, err := loadFeatures(shapefilePath)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, apperrors.Validationf("shapefile is empty")
	}

	plots, err := loadPlots(datFolder, subVillages)
	if err != nil {
		return nil, err
	}

	v := &Village{
		Name:        name,
		Features:    features,
		SubVillages: subVillages,
		Plots:       plots,
		root:        root,
	}
	mapPath := filepath.Join(villagePath, "plots", subVillages[0], "map.jpg")
	if _, err := os.Stat(mapPath); err == nil {
		v.FullMapPath = mapPath
	}
	return v, nil
}

func scanSubVillages(datFolder string) ([]string, error) {
	entries, err := os.ReadDir(datFolder)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "dat_folder not readable")
	}
	var subs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		datSub := filepath.Join(datFolder, e.Name(), "dat")
		imgSub := filepath.Join(datFolder, e.Name(), "dat_image")
		if _, err := os.Stat(datSub); err != nil {
			continue
		}
		if _, err := os.Stat(imgSub); err != nil {
			continue
		}
		subs = append(subs, e.Name())
	}
	sort.Strings(subs)
	return subs, nil
}

func loadFeatures(shapefilePath string) ([]PlotFeature, error) {
	shape, err := shp.Open(shapefilePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindComputation, err, "error reading shapefile")
	}
	defer shape.Close()

	fields := shape.Fields()
	var features []PlotFeature
	for shape.Next() {
		n, p := shape.Shape()
		var ring orb.Ring
		switch s := p.(type) {
		case *shp.Polygon:
			ring = firstRing(s.Points, s.Parts)
		case *shp.PolygonZ:
			ring = firstRing(s.Points, s.Parts)
		case *shp.PolygonM:
			ring = firstRing(s.Points, s.Parts)
		default:
			// Non-polygon geometry has no plot boundary to compare.
			continue
		}
		features = append(features, PlotFeature{
			Index:    len(features),
			Geometry: ring,
			Meta:     readMetadata(shape, fields, n),
		})
	}
	return features, nil
}

// firstRing takes the outer ring of a possibly multi-part polygon.
func firstRing(points []shp.Point, parts []int32) orb.Ring {
	end := len(points)
	if len(parts) > 1 {
		end = int(parts[1])
	}
	ring := make(orb.Ring, 0, end)
	for _, pt := range points[:end] {
		ring = append(ring, orb.Point{pt.X, pt.Y})
	}
	return ring
}

func readMetadata(shape *shp.Reader, fields []shp.Field, n int) Metadata {
	var meta Metadata
	for k, f := range fields {
		value := strings.TrimSpace(shape.ReadAttribute(n, k))
		if value == "" {
			continue
		}
		switch strings.ToLower(strings.TrimRight(f.String(), "\x00")) {
		case "id":
			meta.ID = value
		case "plot_id":
			meta.PlotID = value
		case "survey_no":
			meta.SurveyNo = value
		case "plot_no":
			meta.PlotNo = value
		case "number":
			meta.Number = value
		case "name":
			meta.Name = value
		}
	}
	return meta
}

func loadPlots(datFolder string, subVillages []string) ([]ReferencePlot, error) {
	var plots []ReferencePlot
	for _, sub := range subVillages {
		datDir := filepath.Join(datFolder, sub, "dat")
		entries, err := os.ReadDir(datDir)
		if err != nil {
			continue
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".dat") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, fn := range names {
			base := strings.TrimSuffix(fn, filepath.Ext(fn))
			plot := ReferencePlot{
				Index:      len(plots),
				Filename:   base,
				SubVillage: sub,
				MaskPath:   filepath.Join(datDir, fn),
			}
			imgPath := filepath.Join(datFolder, sub, "dat_image", base+".png")
			if _, err := os.Stat(imgPath); err == nil {
				plot.ImagePath = imgPath
			}
			plots = append(plots, plot)
		}
	}
	return plots, nil
}
