package services

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/google/uuid"
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

// storeSession puts a minimal comparison session into the database so an
// approval can bind to it.
func storeSession(t *testing.T, db *gorm.DB, method string) string {
	t.Helper()
	payload, _ := json.Marshal([]map[string]interface{}{})
	session := &models.ComparisonSession{
		ID:          uuid.New().String(),
		VillageName: "ambeli",
		QueryKind:   models.QueryByIndex,
		ChosenIndex: 0,
		Method:      method,
		Results:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatal(err)
	}
	return session.ID
}

func TestSubmitCreatesPendingApplication(t *testing.T) {
	s := NewWorkflowService(testDB(t))

	app, err := s.Submit(SubmitRequest{Direction: "incoming", VillageName: "ambeli", ChosenIndex: 3})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if app.Status != models.StatusPendingReview {
		t.Errorf("status = %s, want %s", app.Status, models.StatusPendingReview)
	}
	if app.ID == "" || app.SubmittedAt.IsZero() {
		t.Error("application missing id or timestamp")
	}

	got, log, err := s.Get(app.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.VillageName != "ambeli" || got.ChosenIndex != 3 || got.Direction != "incoming" {
		t.Errorf("stored application = %+v", got)
	}
	if len(log) != 2 {
		t.Fatalf("got %d log entries, want 2", len(log))
	}
	if !strings.Contains(log[0].Description, "submitted for village ambeli") {
		t.Errorf("first log entry = %q", log[0].Description)
	}
	if !strings.Contains(log[1].Description, "pending review") {
		t.Errorf("second log entry = %q", log[1].Description)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	s := NewWorkflowService(testDB(t))

	_, err := s.Submit(SubmitRequest{Direction: "incoming"})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("missing village: err = %v, want validation", err)
	}

	_, err = s.Submit(SubmitRequest{VillageName: "ambeli", PreviousID: "no-such-app"})
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Errorf("bad previous id: err = %v, want not-found", err)
	}
}

func TestSubmitLinksPreviousApplication(t *testing.T) {
	s := NewWorkflowService(testDB(t))

	first, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Reject(first.ID); err != nil {
		t.Fatal(err)
	}

	retry, err := s.Submit(SubmitRequest{VillageName: "ambeli", PreviousID: first.ID})
	if err != nil {
		t.Fatalf("retry submit failed: %v", err)
	}
	if retry.PreviousID != first.ID {
		t.Errorf("previous id = %q, want %q", retry.PreviousID, first.ID)
	}
}

func TestApproveBindsMethodAndSession(t *testing.T) {
	db := testDB(t)
	s := NewWorkflowService(db)
	sessionID := storeSession(t, db, models.MethodGeometric)

	app, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}

	approved, err := s.Approve(app.ID, "standard", sessionID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != models.StatusReadyForDownload {
		t.Errorf("status = %s, want %s", approved.Status, models.StatusReadyForDownload)
	}
	if approved.Method != models.MethodGeometric {
		t.Errorf("bound method = %q, want canonical %q", approved.Method, models.MethodGeometric)
	}
	if approved.SessionID != sessionID {
		t.Errorf("bound session = %q, want %q", approved.SessionID, sessionID)
	}

	// Exactly one log entry for the approval, atomic with the transition.
	_, log, err := s.Get(app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 3 {
		t.Fatalf("got %d log entries, want 3", len(log))
	}
	if !strings.Contains(log[2].Description, "ready for download") {
		t.Errorf("approval log entry = %q", log[2].Description)
	}
}

func TestApproveRejectsInvalidInput(t *testing.T) {
	db := testDB(t)
	s := NewWorkflowService(db)
	sessionID := storeSession(t, db, models.MethodGeometric)

	app, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Approve(app.ID, "phrenology", sessionID); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("unknown method: err = %v, want validation", err)
	}
	if _, err := s.Approve(app.ID, models.MethodGeometric, ""); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("missing session: err = %v, want validation", err)
	}
	if _, err := s.Approve(app.ID, models.MethodGeometric, "no-such-session"); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Errorf("unknown session: err = %v, want not-found", err)
	}
	if _, err := s.Approve("no-such-app", models.MethodGeometric, sessionID); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Errorf("unknown application: err = %v, want not-found", err)
	}

	// Method mismatch between the approval and the bound session.
	deepSession := storeSession(t, db, models.MethodDeepFeature)
	if _, err := s.Approve(app.ID, models.MethodGeometric, deepSession); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("method mismatch: err = %v, want validation", err)
	}

	// Failed approvals leave the application untouched.
	got, log, err := s.Get(app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPendingReview || got.Method != "" || got.SessionID != "" {
		t.Errorf("application mutated by failed approvals: %+v", got)
	}
	if len(log) != 2 {
		t.Errorf("got %d log entries after failed approvals, want 2", len(log))
	}
}

func TestRejectedIsTerminal(t *testing.T) {
	db := testDB(t)
	s := NewWorkflowService(db)
	sessionID := storeSession(t, db, models.MethodGeometric)

	app, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := s.Reject(app.ID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != models.StatusRejected {
		t.Errorf("status = %s, want %s", rejected.Status, models.StatusRejected)
	}

	if _, err := s.Reject(app.ID); !apperrors.IsKind(err, apperrors.KindInvalidState) {
		t.Errorf("second reject: err = %v, want invalid-state", err)
	}
	if _, err := s.Approve(app.ID, models.MethodGeometric, sessionID); !apperrors.IsKind(err, apperrors.KindInvalidState) {
		t.Errorf("approve after reject: err = %v, want invalid-state", err)
	}
}

func TestApprovedIsNotReApprovable(t *testing.T) {
	db := testDB(t)
	s := NewWorkflowService(db)
	sessionID := storeSession(t, db, models.MethodGeometric)

	app, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Approve(app.ID, models.MethodGeometric, sessionID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Approve(app.ID, models.MethodGeometric, sessionID); !apperrors.IsKind(err, apperrors.KindInvalidState) {
		t.Errorf("second approve: err = %v, want invalid-state", err)
	}
	if _, err := s.Reject(app.ID); !apperrors.IsKind(err, apperrors.KindInvalidState) {
		t.Errorf("reject after approve: err = %v, want invalid-state", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := NewWorkflowService(testDB(t))

	a, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}
	// Distinct timestamps so ordering is observable.
	time.Sleep(5 * time.Millisecond)
	b, err := s.Submit(SubmitRequest{VillageName: "zefyri"})
	if err != nil {
		t.Fatal(err)
	}

	apps, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("got %d applications, want 2", len(apps))
	}
	if apps[0].ID != b.ID || apps[1].ID != a.ID {
		t.Errorf("order = [%s %s], want newest first", apps[0].VillageName, apps[1].VillageName)
	}
}

func TestGetUnknownApplication(t *testing.T) {
	s := NewWorkflowService(testDB(t))
	if _, _, err := s.Get("no-such-app"); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestStorageFailureIsNotNotFound(t *testing.T) {
	db := testDB(t)
	s := NewWorkflowService(db)

	app, err := s.Submit(SubmitRequest{VillageName: "ambeli"})
	if err != nil {
		t.Fatal(err)
	}

	// A broken store must surface as a computation failure, not as a
	// missing application.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatal(err)
	}

	_, _, err = s.Get(app.ID)
	if err == nil {
		t.Fatal("Get succeeded on a closed store")
	}
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("storage failure classified as not-found: %v", err)
	}
}
