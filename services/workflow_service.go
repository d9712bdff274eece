package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkflowService owns the application lifecycle. Every transition appends
// one activity log entry in the same transaction as the status change, so
// an approval is all-or-nothing: status, bound method, bound session and
// the log line land together or not at all.
type WorkflowService struct {
	DB *gorm.DB
}

func NewWorkflowService(db *gorm.DB) *WorkflowService {
	return &WorkflowService{DB: db}
}

type SubmitRequest struct {
	Direction   string
	VillageName string
	ChosenIndex int
	// PreviousID optionally references a rejected application this one
	// retries.
	PreviousID string
}

// Submit creates a new application. It is recorded as submitted and moved
// straight to pending review; the reviewer queue is the first state a human
// sees.
func (s *WorkflowService) Submit(req SubmitRequest) (*models.Application, error) {
	if req.VillageName == "" {
		return nil, apperrors.Validationf("missing required parameter: village_name")
	}

	app := &models.Application{
		ID:          uuid.New().String(),
		Direction:   req.Direction,
		VillageName: req.VillageName,
		ChosenIndex: req.ChosenIndex,
		PreviousID:  req.PreviousID,
		Status:      models.StatusPendingReview,
		SubmittedAt: time.Now().UTC(),
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if req.PreviousID != "" {
			var prev models.Application
			if err := tx.First(&prev, "id = ?", req.PreviousID).Error; err != nil {
				return lookupErr(err, "previous application %s not found", req.PreviousID)
			}
		}
		if err := tx.Create(app).Error; err != nil {
			return err
		}
		if err := appendLog(tx, app.ID, fmt.Sprintf("Application submitted for village %s", req.VillageName)); err != nil {
			return err
		}
		return appendLog(tx, app.ID, "Moved to pending review")
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Get returns one application with its full activity log, ordered by time.
func (s *WorkflowService) Get(id string) (*models.Application, []models.ActivityLogEntry, error) {
	var app models.Application
	if err := s.DB.First(&app, "id = ?", id).Error; err != nil {
		return nil, nil, lookupErr(err, "application not found")
	}
	var log []models.ActivityLogEntry
	if err := s.DB.Where("application_id = ?", id).Order("id asc").Find(&log).Error; err != nil {
		return nil, nil, err
	}
	return &app, log, nil
}

// List returns all applications, newest first.
func (s *WorkflowService) List() ([]models.Application, error) {
	var apps []models.Application
	if err := s.DB.Order("submitted_at desc").Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

// Approve moves a pending application to ready-for-download and binds the
// chosen method and session. Only valid from PendingReview.
func (s *WorkflowService) Approve(id, method, sessionID string) (*models.Application, error) {
	canonical := models.NormalizeMethod(method)
	if canonical == "" {
		return nil, apperrors.Validationf("unknown comparison method %q", method)
	}
	if sessionID == "" {
		return nil, apperrors.Validationf("missing required parameter: session_id")
	}

	var app models.Application
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&app, "id = ?", id).Error; err != nil {
			return lookupErr(err, "application not found")
		}
		if app.Status != models.StatusPendingReview {
			return apperrors.InvalidStatef("cannot approve application in state %s", app.Status)
		}

		var session models.ComparisonSession
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return lookupErr(err, "session not found")
		}
		if session.Method != canonical {
			return apperrors.Validationf("session %s was produced by method %s, not %s", sessionID, session.Method, canonical)
		}

		app.Status = models.StatusReadyForDownload
		app.Method = canonical
		app.SessionID = sessionID
		if err := tx.Model(&models.Application{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":     app.Status,
			"method":     app.Method,
			"session_id": app.SessionID,
		}).Error; err != nil {
			return err
		}
		return appendLog(tx, id, fmt.Sprintf("Approved with method %s, session %s; ready for download", canonical, sessionID))
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Reject terminates a pending application. No transition leads out of
// Rejected; a retry is a fresh application.
func (s *WorkflowService) Reject(id string) (*models.Application, error) {
	var app models.Application
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&app, "id = ?", id).Error; err != nil {
			return lookupErr(err, "application not found")
		}
		if app.Status != models.StatusPendingReview {
			return apperrors.InvalidStatef("cannot reject application in state %s", app.Status)
		}
		app.Status = models.StatusRejected
		if err := tx.Model(&models.Application{}).Where("id = ?", id).Update("status", app.Status).Error; err != nil {
			return err
		}
		return appendLog(tx, id, "Application rejected")
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// lookupErr maps a missing row to NotFound and keeps any other storage
// failure classified as a computation error, so a locked or corrupt store
// never reads as a 404.
func lookupErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFoundf(format, args...)
	}
	return apperrors.Wrap(apperrors.KindComputation, err, "storage lookup failed")
}

func appendLog(tx *gorm.DB, appID, description string) error {
	entry := models.ActivityLogEntry{
		ApplicationID: appID,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	return tx.Create(&entry).Error
}
