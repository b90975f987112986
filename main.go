package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"portal/api"
	"portal/config"
	"portal/database"
	"portal/middleware"
	"portal/models"
	"portal/repository"
	"portal/services"

	"gorm.io/gorm"
)

func main() {
	config.LoadConfig()

	db, err := database.Init()
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to initialize database: %v", err)
	}

	runMigrations(db)

	answerRepo := repository.NewAnswerRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	graphRepo := repository.NewGraphRepository(db)
	log.Println("INFO: [Main] Repositories initialized.")

	if err := graphRepo.SeedFromFile(config.AppConfig.Graph.SeedFile); err != nil {
		log.Fatalf("FATAL: [Main] Failed to seed question graph: %v", err)
	}

	dependencyService := services.NewDependencyService()
	navigationService := services.NewNavigationService(
		answerRepo, sessionRepo, graphRepo, dependencyService,
		config.AppConfig.TransitionWindow(),
	)
	attachmentService := services.NewAttachmentService(config.AppConfig.Uploads.Dir)

	generator, err := services.NewOpenAIGenerator()
	if err != nil {
		// Analysis buttons degrade to errors at click time; navigation works
		// without a generator.
		log.Printf("WARN: [Main] AI generator unavailable: %v", err)
		generator = unavailableGenerator{err: err}
	}
	analysisService := services.NewAnalysisService(answerRepo, graphRepo, generator)
	log.Println("INFO: [Main] Services initialized.")

	apiHandler := api.NewAPIHandler(
		navigationService,
		dependencyService,
		analysisService,
		attachmentService,
		graphRepo,
		answerRepo,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Cors())
	apiHandler.RegisterRoutes(router)

	addr := ":" + config.AppConfig.Server.Port
	log.Printf("INFO: [Main] Starting server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("FATAL: [Main] Server exited: %v", err)
	}
}

type unavailableGenerator struct {
	err error
}

func (g unavailableGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", g.err
}

func runMigrations(db *gorm.DB) {
	err := db.AutoMigrate(
		&models.AnswerRecord{},
		&models.QuestionnaireSession{},
		&models.GraphRecord{},
	)
	if err != nil {
		log.Fatalf("FATAL: [Main] Failed to run database migrations: %v", err)
	}
	log.Println("INFO: [Main] Database migrations complete.")
}
