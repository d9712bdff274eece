package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/config"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Engine validates a comparison request, dispatches it to the selected
// comparator and persists the run as a write-once session.
type Engine struct {
	Cfg     *config.Config
	Catalog *catalog.Index
	DB      *gorm.DB

	comparators map[string]Comparator
}

func NewEngine(cfg *config.Config, ix *catalog.Index, db *gorm.DB, comparators ...Comparator) *Engine {
	e := &Engine{
		Cfg:         cfg,
		Catalog:     ix,
		DB:          db,
		comparators: make(map[string]Comparator),
	}
	for _, c := range comparators {
		e.comparators[c.Name()] = c
	}
	return e
}

// Comparator returns the registered comparator for a canonical method name.
func (e *Engine) Comparator(method string) Comparator {
	return e.comparators[method]
}

// RunByIndex runs a comparison for a catalog feature index.
func (e *Engine) RunByIndex(ctx context.Context, villageName string, index int, method string) (*models.ComparisonSession, []Result, error) {
	return e.run(ctx, villageName, &Query{Kind: models.QueryByIndex, Index: index}, method)
}

// RunByImage runs a comparison for an uploaded query image.
func (e *Engine) RunByImage(ctx context.Context, villageName, imagePath, method string) (*models.ComparisonSession, []Result, error) {
	return e.run(ctx, villageName, &Query{Kind: models.QueryByImage, Index: -1, ImagePath: imagePath}, method)
}

func (e *Engine) run(ctx context.Context, villageName string, q *Query, method string) (*models.ComparisonSession, []Result, error) {
	canonical := models.NormalizeMethod(method)
	if canonical == "" {
		return nil, nil, apperrors.Validationf("unknown comparison method %q", method)
	}
	cmp := e.comparators[canonical]
	if cmp == nil {
		return nil, nil, apperrors.Validationf("comparison method %q is not registered", canonical)
	}
	if !cmp.Available() {
		return nil, nil, apperrors.Capabilityf("comparison method %q is not available", canonical)
	}

	village, err := e.Catalog.Village(villageName)
	if err != nil {
		return nil, nil, err
	}

	if err := e.resolveQuery(village, q); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.Cfg.CompareTimeoutSec)*time.Second)
	defer cancel()

	results, err := cmp.Compare(ctx, village, q)
	if err != nil {
		return nil, nil, err
	}

	threshold := e.Cfg.GeometricThreshold
	if canonical == models.MethodDeepFeature {
		threshold = e.Cfg.DeepFeatureThreshold
	}
	// A best match requires the top score strictly above the threshold.
	bestFound := len(results) > 0 && results[0].PrimaryScore(canonical) > threshold

	session := &models.ComparisonSession{
		ID:          uuid.New().String(),
		VillageName: villageName,
		QueryKind:   q.Kind,
		ChosenIndex: q.Index,
		Method:      canonical,
		CreatedAt:   time.Now().UTC(),
	}
	if bestFound {
		top := results[0]
		session.BestMatchFound = true
		session.BestFilename = top.Filename
		session.BestSubVillage = top.SubVillage
		session.BestScoreInfo = scoreInfo(canonical, top)
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindComputation, err, "failed to encode results")
	}
	session.Results = payload

	if err := e.DB.Create(session).Error; err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindComputation, err, "failed to store session")
	}
	return session, results, nil
}

// resolveQuery turns the query locator into the concrete inputs the
// comparators consume: a rasterized mask and a rendered reference image.
func (e *Engine) resolveQuery(village *catalog.Village, q *Query) error {
	switch q.Kind {
	case models.QueryByIndex:
		if q.Index < 0 || q.Index >= len(village.Features) {
			return apperrors.OutOfRangef("index %d out of range. Available: 0-%d", q.Index, len(village.Features)-1)
		}
		feature := village.Features[q.Index]
		mask, err := RasterizeRing(feature.Geometry, e.Cfg.ImageSize, e.Cfg.PaddingRatio)
		if err != nil {
			return err
		}
		q.Mask = mask

		if err := os.MkdirAll(e.Cfg.ReferenceDir, os.ModePerm); err != nil {
			return apperrors.Wrap(apperrors.KindComputation, err, "failed to create reference directory")
		}
		refPath := filepath.Join(e.Cfg.ReferenceDir, fmt.Sprintf("%s_ref_idx%d.png", village.Name, q.Index))
		if err := mask.SavePNG(refPath); err != nil {
			return apperrors.Wrap(apperrors.KindComputation, err, "failed to save reference image")
		}
		q.ImagePath = refPath
		return nil

	case models.QueryByImage:
		if q.ImagePath == "" {
			return apperrors.Validationf("missing query image")
		}
		mask, err := MaskFromImage(q.ImagePath, e.Cfg.ImageSize)
		if err != nil {
			return err
		}
		q.Mask = mask
		return nil

	default:
		return apperrors.Validationf("unknown query kind %q", q.Kind)
	}
}

// GetSession loads a stored session, failing with NotFound for unknown ids.
// Storage failures keep their own classification so they do not read as a
// missing session.
func (e *Engine) GetSession(sessionID string) (*models.ComparisonSession, []Result, error) {
	var session models.ComparisonSession
	if err := e.DB.First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.NotFoundf("session not found")
		}
		return nil, nil, apperrors.Wrap(apperrors.KindComputation, err, "failed to load session")
	}
	var results []Result
	if err := json.Unmarshal(session.Results, &results); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindComputation, err, "failed to decode session results")
	}
	return &session, results, nil
}

func scoreInfo(method string, top Result) string {
	if method == models.MethodDeepFeature {
		return fmt.Sprintf("Similarity: %.3f (Sub-village: %s)", top.PrimaryScore(method), top.SubVillage)
	}
	return fmt.Sprintf("IoU: %.3f (Sub-village: %s)", top.PrimaryScore(method), top.SubVillage)
}
