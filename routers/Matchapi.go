package routers

import (
	"github.com/GrainArc/PlotMatch/views"
	"github.com/gin-gonic/gin"
)

func MatchRouters(r *gin.Engine, mc *views.MatchController) {
	api := r.Group("/api")
	{
		api.GET("/health", mc.Health)
		api.GET("/villages", mc.GetVillages)
		api.GET("/village/:village_name/structure", mc.GetVillageStructure)
		api.GET("/village/:village_name/survey-numbers", mc.GetSurveyNumbers)
	}
	{
		api.POST("/compare", mc.RunComparison)
		api.POST("/compare/upload", mc.RunComparisonUpload)
	}
	{
		api.POST("/generate-pdf/:session_id", mc.GeneratePDF)
		api.GET("/download-pdf/:filename", mc.DownloadPDF)
	}
	{
		// Review workflow
		api.POST("/applications", mc.CreateApplication)
		api.GET("/applications", mc.ListApplications)
		api.GET("/applications/:id", mc.GetApplication)
		api.POST("/applications/:id/approve", mc.ApproveApplication)
		api.POST("/applications/:id/reject", mc.RejectApplication)
	}
}
