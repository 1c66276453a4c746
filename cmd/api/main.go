package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portionchef/internal/api"
	"portionchef/internal/batch"
	"portionchef/internal/config"
	"portionchef/internal/platform/gemini"
	"portionchef/internal/platform/localllm"
	"portionchef/internal/platform/logger"
	"portionchef/internal/portion"
	"portionchef/internal/recipe"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("config.json")
	if err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
	})
	defer log.Sync()

	dbStore, err := recipe.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		log.Fatal("error creating postgres store", zap.Error(err))
	}
	defer dbStore.Close()

	// Left nil without an API key so the handler reports the backend as unconfigured.
	var geminiClient api.Proposer
	if cfg.Gemini.APIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, log)
		if err != nil {
			log.Fatal("error creating gemini client", zap.Error(err))
		}
		defer client.Close()
		geminiClient = client
	} else {
		log.Warn("gemini api key not set, gemini strategy disabled")
	}

	localLLMClient := localllm.NewClient(cfg.LocalLLM.URL, cfg.LocalLLM.Model, log)

	optimizer := portion.NewOptimizer(log, portion.WithMaxIterations(cfg.Optimizer.MaxIterations))
	runner := batch.NewRunner(dbStore, optimizer, cfg.Batch.Workers, log)

	handler := api.NewHandler(optimizer, geminiClient, localLLMClient, runner, dbStore, log)
	handler.ImagesDir = cfg.Images.Dir
	handler.Timeout = cfg.Request.Timeout

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := setupRouter(cfg, handler)

	log.Info("starting server", zap.String("app", cfg.App.Name), zap.String("addr", cfg.Server.Addr))
	if err := r.Run(cfg.Server.Addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func setupRouter(cfg *config.Config, handler *api.Handler) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler.Register(r)
	r.Static("/images", cfg.Images.Dir)
	return r
}
