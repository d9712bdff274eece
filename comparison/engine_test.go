package comparison

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	shp "gitee.com/LJ_COOL/go-shp"
	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return db
}

// newTestEngine lays out an archive with 5 square features and two
// reference plots: an exact copy of the rasterized query square and a
// small corner blob.
func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	cfg := testConfig()
	root := t.TempDir()
	cfg.ReferenceDir = filepath.Join(t.TempDir(), "refs")

	villagePath := filepath.Join(root, "ambeli")
	pandaDir := filepath.Join(villagePath, "ambeli_panda")
	if err := os.MkdirAll(pandaDir, 0755); err != nil {
		t.Fatal(err)
	}
	w, err := shp.Create(filepath.Join(pandaDir, "ambeli.shp"), shp.POLYGON)
	if err != nil {
		t.Fatalf("shp.Create failed: %v", err)
	}
	w.SetFields([]shp.Field{shp.StringField([]byte("SURVEY_NO"), 20)})
	for i := 0; i < 5; i++ {
		x0 := float64(i) * 20
		points := []shp.Point{
			{X: x0, Y: 0}, {X: x0 + 10, Y: 0}, {X: x0 + 10, Y: 10}, {X: x0, Y: 10}, {X: x0, Y: 0},
		}
		w.Write(shp.NewPolyLine([][]shp.Point{points}))
		if err := w.WriteAttribute(i, 0, "S"+string(rune('0'+i))); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	datDir := filepath.Join(villagePath, "dat_folder", "north", "dat")
	imgDir := filepath.Join(villagePath, "dat_folder", "north", "dat_image")
	for _, d := range []string{datDir, imgDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	// The "match" plot is the exact grid every square feature rasterizes to.
	ref, err := RasterizeRing(squareRing(0, 0, 10, 10), cfg.ImageSize, cfg.PaddingRatio)
	if err != nil {
		t.Fatal(err)
	}
	writeMaskDat(t, datDir, "match.dat", ref)
	writeMaskDat(t, datDir, "other.dat", blockMask(cfg.ImageSize, 0, 0, 5, 5))

	e := NewEngine(cfg, catalog.NewIndex(root), testDB(t), NewGeometricComparator(cfg))
	return e, root
}

func TestEngineRunByIndexPersistsSession(t *testing.T) {
	e, _ := newTestEngine(t)

	session, results, err := e.RunByIndex(context.Background(), "ambeli", 0, models.MethodGeometric)
	if err != nil {
		t.Fatalf("RunByIndex failed: %v", err)
	}
	if session.ID == "" {
		t.Error("session has no id")
	}
	if session.Method != models.MethodGeometric || session.QueryKind != models.QueryByIndex || session.ChosenIndex != 0 {
		t.Errorf("session header = %+v", session)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.Rank != i+1 {
			t.Errorf("result %d has rank %d", i, r.Rank)
		}
	}
	if results[0].Filename != "match" || *results[0].IoU != 1.0 {
		t.Errorf("top result = %s (IoU %.3f), want match with IoU 1.0",
			results[0].Filename, *results[0].IoU)
	}

	if !session.BestMatchFound {
		t.Fatal("best match not flagged despite IoU above threshold")
	}
	if session.BestFilename != "match" || session.BestSubVillage != "north" {
		t.Errorf("best match = %s/%s", session.BestSubVillage, session.BestFilename)
	}
	if !strings.Contains(session.BestScoreInfo, "IoU: 1.000") ||
		!strings.Contains(session.BestScoreInfo, "north") {
		t.Errorf("score info = %q", session.BestScoreInfo)
	}

	// The rendered reference image is written for index queries.
	refPath := filepath.Join(e.Cfg.ReferenceDir, "ambeli_ref_idx0.png")
	if _, err := os.Stat(refPath); err != nil {
		t.Errorf("reference image not written: %v", err)
	}

	// The stored session replays the same results.
	stored, storedResults, err := e.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if stored.BestFilename != session.BestFilename || len(storedResults) != len(results) {
		t.Error("stored session diverges from the returned one")
	}
	for i := range results {
		if storedResults[i].Filename != results[i].Filename || *storedResults[i].IoU != *results[i].IoU {
			t.Errorf("stored result %d diverges", i)
		}
	}
}

func TestEngineAcceptsMethodAliases(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _, err := e.RunByIndex(context.Background(), "ambeli", 1, "standard")
	if err != nil {
		t.Fatalf("RunByIndex with alias failed: %v", err)
	}
	if session.Method != models.MethodGeometric {
		t.Errorf("session method = %q, want %q", session.Method, models.MethodGeometric)
	}
}

func TestEngineIndexOutOfRange(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, idx := range []int{-1, 5, 7} {
		_, _, err := e.RunByIndex(context.Background(), "ambeli", idx, models.MethodGeometric)
		if !apperrors.IsKind(err, apperrors.KindOutOfRange) {
			t.Fatalf("index %d: err = %v, want out-of-range", idx, err)
		}
		if !strings.Contains(err.Error(), "Available: 0-4") {
			t.Errorf("index %d: message %q does not state the valid range", idx, err)
		}
	}
}

func TestEngineRejectsBadInputs(t *testing.T) {
	e, _ := newTestEngine(t)

	_, _, err := e.RunByIndex(context.Background(), "ambeli", 0, "phrenology")
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("unknown method: err = %v, want validation", err)
	}

	// Canonical but unregistered on this engine.
	_, _, err = e.RunByIndex(context.Background(), "ambeli", 0, models.MethodDeepFeature)
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("unregistered method: err = %v, want validation", err)
	}

	_, _, err = e.RunByIndex(context.Background(), "atlantis", 0, models.MethodGeometric)
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Errorf("unknown village: err = %v, want not-found", err)
	}
}

func TestEngineThresholdGatesBestMatch(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Cfg.GeometricThreshold = 1.01

	session, results, err := e.RunByIndex(context.Background(), "ambeli", 0, models.MethodGeometric)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected ranked results even without a best match")
	}
	if session.BestMatchFound || session.BestFilename != "" || session.BestScoreInfo != "" {
		t.Errorf("best match flagged below threshold: %+v", session)
	}

	// A top score exactly at the threshold does not qualify; the score must
	// exceed it.
	e.Cfg.GeometricThreshold = 1.0
	session, results, err = e.RunByIndex(context.Background(), "ambeli", 0, models.MethodGeometric)
	if err != nil {
		t.Fatal(err)
	}
	if *results[0].IoU != 1.0 {
		t.Fatalf("top IoU = %.3f, fixture should score exactly 1.0", *results[0].IoU)
	}
	if session.BestMatchFound {
		t.Error("best match flagged at exactly the threshold")
	}
}

func TestEngineSessionLookupErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	if _, _, err := e.GetSession("no-such-session"); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("unknown session: err = %v, want not-found", err)
	}

	session, _, err := e.RunByIndex(context.Background(), "ambeli", 0, models.MethodGeometric)
	if err != nil {
		t.Fatal(err)
	}

	// A broken store is a computation failure, not a missing session.
	sqlDB, err := e.DB.DB()
	if err != nil {
		t.Fatal(err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatal(err)
	}
	_, _, err = e.GetSession(session.ID)
	if err == nil {
		t.Fatal("GetSession succeeded on a closed store")
	}
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("storage failure classified as not-found: %v", err)
	}
}

func TestEngineRunsAreDeterministic(t *testing.T) {
	e, _ := newTestEngine(t)

	s1, r1, err := e.RunByIndex(context.Background(), "ambeli", 2, models.MethodGeometric)
	if err != nil {
		t.Fatal(err)
	}
	s2, r2, err := e.RunByIndex(context.Background(), "ambeli", 2, models.MethodGeometric)
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID == s2.ID {
		t.Error("distinct runs share a session id")
	}
	if len(r1) != len(r2) {
		t.Fatal("runs returned different result counts")
	}
	for i := range r1 {
		if r1[i].Filename != r2[i].Filename || *r1[i].IoU != *r2[i].IoU ||
			*r1[i].Hausdorff != *r2[i].Hausdorff {
			t.Errorf("result %d diverges between runs", i)
		}
	}
}

func TestEngineRunByImage(t *testing.T) {
	e, _ := newTestEngine(t)

	// Render the square shape to a file and query by image; the exact-copy
	// plot must still win.
	ref, err := RasterizeRing(squareRing(0, 0, 10, 10), e.Cfg.ImageSize, e.Cfg.PaddingRatio)
	if err != nil {
		t.Fatal(err)
	}
	queryPath := filepath.Join(t.TempDir(), "query.png")
	if err := ref.SavePNG(queryPath); err != nil {
		t.Fatal(err)
	}

	session, results, err := e.RunByImage(context.Background(), "ambeli", queryPath, models.MethodGeometric)
	if err != nil {
		t.Fatalf("RunByImage failed: %v", err)
	}
	if session.QueryKind != models.QueryByImage || session.ChosenIndex != -1 {
		t.Errorf("session header = %+v", session)
	}
	if results[0].Filename != "match" {
		t.Errorf("top result = %s, want match", results[0].Filename)
	}
	if !session.BestMatchFound {
		t.Error("best match not flagged for image query")
	}
}
