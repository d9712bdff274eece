package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GrainArc/PlotMatch/catalog"
	"github.com/GrainArc/PlotMatch/comparison"
	"github.com/GrainArc/PlotMatch/config"
	"github.com/GrainArc/PlotMatch/embedding"
	"github.com/GrainArc/PlotMatch/models"
	"github.com/GrainArc/PlotMatch/routers"
	"github.com/GrainArc/PlotMatch/services"
	"github.com/GrainArc/PlotMatch/views"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := &config.MainConfig

	if err := models.InitDatabase(cfg.Download); err != nil {
		log.Fatalf("database init failed: %v", err)
	}

	ix := catalog.NewIndex(cfg.MapsDir)
	embedClient := embedding.NewClient(cfg.EmbedURL)
	engine := comparison.NewEngine(cfg, ix, models.DB,
		comparison.NewGeometricComparator(cfg),
		comparison.NewDeepFeatureComparator(cfg, embedClient),
	)
	report := services.NewReportService(cfg, ix, engine)
	workflow := services.NewWorkflowService(models.DB)

	r := gin.Default()
	r.Use(corsMiddleware())
	mc := views.NewMatchController(cfg, ix, engine, report, workflow)
	routers.MatchRouters(r, mc)

	srv := &http.Server{
		Addr:    cfg.MainRouter,
		Handler: r,
	}
	go func() {
		log.Printf("listening on %s", cfg.MainRouter)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Role")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
