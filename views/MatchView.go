package views

import (
	"net/http"
	"path/filepath"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/comparison"
	"github.com/GrainArc/PlotMatch/config"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/GrainArc/PlotMatch/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MatchController struct {
	Cfg      *config.Config
	Catalog  *catalog.Index
	Engine   *comparison.Engine
	Report   *services.ReportService
	Workflow *services.WorkflowService
}

func NewMatchController(cfg *config.Config, ix *catalog.Index, engine *comparison.Engine, report *services.ReportService, workflow *services.WorkflowService) *MatchController {
	return &MatchController{
		Cfg:      cfg,
		Catalog:  ix,
		Engine:   engine,
		Report:   report,
		Workflow: workflow,
	}
}

func (mc *MatchController) Health(c *gin.Context) {
	deepAvailable := false
	if cmp := mc.Engine.Comparator(models.MethodDeepFeature); cmp != nil {
		deepAvailable = cmp.Available()
	}
	pdfAvailable := mc.Report.Available()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "healthy",
		"dependencies": gin.H{
			"embedding_service": deepAvailable,
			"pdf":               pdfAvailable,
		},
		"advanced_comparison_available": deepAvailable,
		"pdf_generation_available":      pdfAvailable,
	})
}

func (mc *MatchController) GetVillages(c *gin.Context) {
	villages, err := mc.Catalog.ListVillages()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"villages": villages,
	})
}

func (mc *MatchController) GetVillageStructure(c *gin.Context) {
	name := c.Param("village_name")
	structure, err := mc.Catalog.Structure(name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"village_name": name,
		"num_features": structure.NumFeatures,
		"sub_villages": structure.SubVillages,
		"has_full_map": structure.HasFullMap,
	})
}

func (mc *MatchController) GetSurveyNumbers(c *gin.Context) {
	name := c.Param("village_name")
	village, err := mc.Catalog.Village(name)
	if err != nil {
		writeError(c, err)
		return
	}
	surveyNumbers := make([]SurveyNumber, 0, len(village.Features))
	for _, f := range village.Features {
		surveyNumbers = append(surveyNumbers, SurveyNumber{Index: f.Index, Metadata: f.Meta})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"village_name":   name,
		"survey_numbers": surveyNumbers,
		"total_features": len(village.Features),
	})
}

func (mc *MatchController) RunComparison(c *gin.Context) {
	var req CompareRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(c, apperrors.Validationf("invalid request body"))
		return
	}
	if req.VillageName == "" || req.ChosenIndex == nil || req.ComparisonMethod == "" {
		writeError(c, apperrors.Validationf("missing required parameters: village_name, chosen_index, comparison_method"))
		return
	}

	session, results, err := mc.Engine.RunByIndex(c.Request.Context(), req.VillageName, *req.ChosenIndex, req.ComparisonMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	mc.writeComparisonResponse(c, session, results)
}

// RunComparisonUpload is the uploaded-image variant of the compare
// endpoint: multipart form with village_name, comparison_method and a
// query_image file.
func (mc *MatchController) RunComparisonUpload(c *gin.Context) {
	villageName := c.PostForm("village_name")
	method := c.PostForm("comparison_method")
	file, err := c.FormFile("query_image")
	if villageName == "" || method == "" || err != nil {
		writeError(c, apperrors.Validationf("missing required parameters: village_name, comparison_method, query_image"))
		return
	}

	uploadDir := filepath.Join(mc.Cfg.ReferenceDir, "uploads")
	dst := filepath.Join(uploadDir, uuid.New().String()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindComputation, err, "failed to store uploaded image"))
		return
	}

	session, results, err := mc.Engine.RunByImage(c.Request.Context(), villageName, dst, method)
	if err != nil {
		writeError(c, err)
		return
	}
	mc.writeComparisonResponse(c, session, results)
}

func (mc *MatchController) writeComparisonResponse(c *gin.Context, session *models.ComparisonSession, results []comparison.Result) {
	resp := gin.H{
		"success":           true,
		"session_id":        session.ID,
		"best_match_found":  session.BestMatchFound,
		"results":           results,
		"comparison_method": session.Method,
		"village_name":      session.VillageName,
	}
	if session.QueryKind == models.QueryByIndex {
		resp["chosen_index"] = session.ChosenIndex
	}
	if session.BestMatchFound {
		resp["best_match_info"] = gin.H{
			"filename":   session.BestFilename,
			"score_info": session.BestScoreInfo,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (mc *MatchController) GeneratePDF(c *gin.Context) {
	if !mc.Report.Available() {
		writeError(c, apperrors.Capabilityf("PDF generation is not available"))
		return
	}
	filename, err := mc.Report.Generate(c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"pdf_filename": filename,
	})
}

func (mc *MatchController) DownloadPDF(c *gin.Context) {
	filename := c.Param("filename")
	path, err := mc.Report.Path(filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}
