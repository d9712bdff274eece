package views

import (
	"net/http"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/GrainArc/PlotMatch/services"
	"github.com/gin-gonic/gin"
)

// CreateApplication submits a new application into the review workflow.
// Requires the submitter role.
func (mc *MatchController) CreateApplication(c *gin.Context) {
	if !requireRole(c, models.RoleSubmitter) {
		return
	}
	var req CreateApplicationRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(c, apperrors.Validationf("invalid request body"))
		return
	}
	if req.VillageName == "" || req.ChosenIndex == nil {
		writeError(c, apperrors.Validationf("missing required parameters: village_name, chosen_index"))
		return
	}

	// The target must exist before entering the review queue.
	structure, err := mc.Catalog.Structure(req.VillageName)
	if err != nil {
		writeError(c, err)
		return
	}
	if *req.ChosenIndex < 0 || *req.ChosenIndex >= structure.NumFeatures {
		writeError(c, apperrors.OutOfRangef("index %d out of range. Available: 0-%d", *req.ChosenIndex, structure.NumFeatures-1))
		return
	}

	app, err := mc.Workflow.Submit(services.SubmitRequest{
		Direction:   req.Direction,
		VillageName: req.VillageName,
		ChosenIndex: *req.ChosenIndex,
		PreviousID:  req.PreviousApplicationID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"application": toApplicationResponse(app),
	})
}

func (mc *MatchController) ListApplications(c *gin.Context) {
	apps, err := mc.Workflow.List()
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]ApplicationResponse, 0, len(apps))
	for i := range apps {
		out = append(out, toApplicationResponse(&apps[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"applications": out,
	})
}

func (mc *MatchController) GetApplication(c *gin.Context) {
	app, entries, err := mc.Workflow.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	activity := make([]ActivityLogResponse, 0, len(entries))
	for _, e := range entries {
		activity = append(activity, ActivityLogResponse{
			Timestamp:   e.CreatedAt,
			Description: e.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"application":  toApplicationResponse(app),
		"activity_log": activity,
	})
}

// ApproveApplication binds the reviewer's chosen method and session and
// marks the application ready for download. Requires the reviewer role.
func (mc *MatchController) ApproveApplication(c *gin.Context) {
	if !requireRole(c, models.RoleReviewer) {
		return
	}
	var req ApproveRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(c, apperrors.Validationf("invalid request body"))
		return
	}
	if req.ComparisonMethod == "" || req.SessionID == "" {
		writeError(c, apperrors.Validationf("missing required parameters: comparison_method, session_id"))
		return
	}
	app, err := mc.Workflow.Approve(c.Param("id"), req.ComparisonMethod, req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"application": toApplicationResponse(app),
	})
}

// RejectApplication terminates a pending application. Requires the
// reviewer role.
func (mc *MatchController) RejectApplication(c *gin.Context) {
	if !requireRole(c, models.RoleReviewer) {
		return
	}
	app, err := mc.Workflow.Reject(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"application": toApplicationResponse(app),
	})
}
