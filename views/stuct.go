package views

import (
	"time"

	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/models"
)

type CompareRequest struct {
	VillageName      string `json:"village_name"`
	ChosenIndex      *int   `json:"chosen_index"`
	ComparisonMethod string `json:"comparison_method"`
}

type SurveyNumber struct {
	Index int `json:"index"`
	catalog.Metadata
}

type CreateApplicationRequest struct {
	Direction             string `json:"direction"`
	VillageName           string `json:"village_name"`
	ChosenIndex           *int   `json:"chosen_index"`
	PreviousApplicationID string `json:"previous_application_id"`
}

type ApproveRequest struct {
	ComparisonMethod string `json:"comparison_method"`
	SessionID        string `json:"session_id"`
}

type ApplicationResponse struct {
	ID                    string    `json:"id"`
	Direction             string    `json:"direction"`
	VillageName           string    `json:"village_name"`
	ChosenIndex           int       `json:"chosen_index"`
	PreviousApplicationID string    `json:"previous_application_id,omitempty"`
	Status                string    `json:"status"`
	ComparisonMethod      string    `json:"comparison_method,omitempty"`
	SessionID             string    `json:"session_id,omitempty"`
	SubmittedAt           time.Time `json:"submitted_at"`
}

func toApplicationResponse(app *models.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:                    app.ID,
		Direction:             app.Direction,
		VillageName:           app.VillageName,
		ChosenIndex:           app.ChosenIndex,
		PreviousApplicationID: app.PreviousID,
		Status:                app.Status,
		ComparisonMethod:      app.Method,
		SessionID:             app.SessionID,
		SubmittedAt:           app.SubmittedAt,
	}
}

type ActivityLogResponse struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}
