package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/GrainArc/PlotMatch/apperrors"
	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/comparison"
	"github.com/GrainArc/PlotMatch/config"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/go-pdf/fpdf"
)

// ReportService renders a finalized session into a downloadable PDF. The
// output is a pure function of the stored session: regenerating the same
// session yields content-equivalent bytes (document dates are pinned to
// the session timestamp).
type ReportService struct {
	Cfg     *config.Config
	Catalog *catalog.Index
	Engine  *comparison.Engine
}

func NewReportService(cfg *config.Config, ix *catalog.Index, engine *comparison.Engine) *ReportService {
	return &ReportService{Cfg: cfg, Catalog: ix, Engine: engine}
}

// Available reports whether PDF rendering can run. The renderer is compiled
// in, so this is a constant capability flag surfaced on the health check.
func (s *ReportService) Available() bool {
	return true
}

// Generate renders the report for a stored session and returns its file
// name. Fails with NotFound for unknown sessions.
func (s *ReportService) Generate(sessionID string) (string, error) {
	session, results, err := s.Engine.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	if !session.BestMatchFound || len(results) == 0 {
		return "", apperrors.Validationf("no results to generate PDF")
	}

	if err := os.MkdirAll(s.Cfg.ReportDir, os.ModePerm); err != nil {
		return "", apperrors.Wrap(apperrors.KindComputation, err, "failed to create report directory")
	}
	filename := reportFilename(session)
	outPath := filepath.Join(s.Cfg.ReportDir, filename)

	if err := s.render(session, results, outPath); err != nil {
		return "", apperrors.Wrap(apperrors.KindComputation, err, "failed to render PDF")
	}
	return filename, nil
}

// Path resolves a previously generated report file name to its location,
// failing with NotFound for names never produced.
func (s *ReportService) Path(filename string) (string, error) {
	clean := filepath.Base(filename)
	p := filepath.Join(s.Cfg.ReportDir, clean)
	if _, err := os.Stat(p); err != nil {
		return "", apperrors.NotFoundf("PDF file not found")
	}
	return p, nil
}

func (s *ReportService) render(session *models.ComparisonSession, results []comparison.Result, outPath string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	// Sort catalog entries so regenerating the same session yields
	// byte-identical output; fpdf otherwise emits them in map order.
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(session.CreatedAt)
	pdf.SetModificationDate(session.CreatedAt)
	pdf.SetTitle("Plot Comparison Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Plot Comparison Report", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Village: %s", session.VillageName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Query: %s", queryLabel(session)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Comparison method: %s", session.Method), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Run at: %s", session.CreatedAt.Format("2006-01-02 15:04:05 UTC")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Best match", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Plot: %s", session.BestFilename), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, session.BestScoreInfo, "", 1, "L", false, 0, "")
	pdf.Ln(4)

	s.renderTable(pdf, session, results)
	s.renderImages(pdf, session)

	return pdf.OutputFileAndClose(outPath)
}

func (s *ReportService) renderTable(pdf *fpdf.Fpdf, session *models.ComparisonSession, results []comparison.Result) {
	topN := s.Cfg.TopNMatches
	if topN > len(results) {
		topN = len(results)
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Top %d matches", topN), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 10)

	deep := session.Method == models.MethodDeepFeature
	if deep {
		pdf.CellFormat(15, 7, "Rank", "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 7, "Plot", "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 7, "Sub-village", "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, "Similarity", "1", 1, "R", false, 0, "")
	} else {
		pdf.CellFormat(15, 7, "Rank", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 7, "Plot", "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 7, "Sub-village", "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 7, "IoU", "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, "Hausdorff", "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "", 10)
	for _, r := range results[:topN] {
		if deep {
			pdf.CellFormat(15, 7, fmt.Sprintf("%d", r.Rank), "1", 0, "C", false, 0, "")
			pdf.CellFormat(70, 7, r.Filename, "1", 0, "L", false, 0, "")
			pdf.CellFormat(55, 7, r.SubVillage, "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 7, fmt.Sprintf("%.4f", *r.Similarity), "1", 1, "R", false, 0, "")
		} else {
			pdf.CellFormat(15, 7, fmt.Sprintf("%d", r.Rank), "1", 0, "C", false, 0, "")
			pdf.CellFormat(55, 7, r.Filename, "1", 0, "L", false, 0, "")
			pdf.CellFormat(45, 7, r.SubVillage, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 7, fmt.Sprintf("%.4f", *r.IoU), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 7, fmt.Sprintf("%.2f", *r.Hausdorff), "1", 1, "R", false, 0, "")
		}
	}
	pdf.Ln(4)
}

// renderImages embeds whatever artwork the archive has for the session:
// the rendered reference image, the best-match plot image and the village
// composite map. Each is optional; the report stays valid without them.
func (s *ReportService) renderImages(pdf *fpdf.Fpdf, session *models.ComparisonSession) {
	if session.QueryKind == models.QueryByIndex {
		refPath := filepath.Join(s.Cfg.ReferenceDir, fmt.Sprintf("%s_ref_idx%d.png", session.VillageName, session.ChosenIndex))
		addImage(pdf, "Reference shape", refPath)
	}

	village, err := s.Catalog.Village(session.VillageName)
	if err != nil {
		log.Printf("report: village %s no longer loadable: %v", session.VillageName, err)
		return
	}
	if p := village.FindPlotImage(session.BestSubVillage, session.BestFilename); p != "" {
		addImage(pdf, "Best match plot", p)
	}
	if village.HasFullMap() {
		addImage(pdf, "Village map", village.FullMapPath)
	}
}

func addImage(pdf *fpdf.Fpdf, caption, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, caption, "", 1, "L", false, 0, "")
	pdf.ImageOptions(path, pdf.GetX(), pdf.GetY(), 80, 0, true, fpdf.ImageOptions{ReadDpi: true}, 0, "")
	pdf.Ln(4)
}

func queryLabel(session *models.ComparisonSession) string {
	if session.QueryKind == models.QueryByImage {
		return "uploaded image"
	}
	return fmt.Sprintf("feature index %d", session.ChosenIndex)
}

func reportFilename(session *models.ComparisonSession) string {
	if session.QueryKind == models.QueryByImage {
		// Upload sessions have no index to key the name by; without the
		// session id two uploads for the same village and method would
		// overwrite each other's artifact.
		return fmt.Sprintf("comparison_report_%s_upload_%s_%s.pdf", session.VillageName, session.Method, session.ID)
	}
	return fmt.Sprintf("comparison_report_%s_idx%d_%s.pdf", session.VillageName, session.ChosenIndex, session.Method)
}
