package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/config"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/graphrag"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/graphstore"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/handlers"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/middleware"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/ollama"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/security"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&log.JSONFormatter{})

	ctx := context.Background()

	// Initialize the graph store connection
	graph, err := graphstore.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to Neo4j: %v", err)
	}
	defer graph.Close(ctx)

	// Initialize the LLM client
	llm := ollama.NewClient(cfg.OllamaHost, cfg.OllamaModel, cfg.OllamaTemperature, cfg.OllamaMaxTokens)

	// Security guards and pipeline
	guards := security.NewGuards(cfg.AllowedTickers, cfg.MaxQueryLength, cfg.MaxCypherLimit)
	logTemplateSweep(guards)

	pipeline := graphrag.NewPipeline(
		graph,
		llm,
		guards,
		cfg.OllamaMaxTokens,
		cfg.ResponseCacheTTL,
		cfg.ClassificationCacheTTL,
		cfg.ComprehensiveCacheTTL,
	)

	// Initialize handlers
	askHandler := handlers.NewAskHandler(pipeline)
	graphHandler := handlers.NewGraphHandler(pipeline)
	adminHandler := handlers.NewAdminHandler(pipeline, graph, llm)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())

	router.GET("/health", adminHandler.Health)
	router.POST("/ask", askHandler.Ask)
	router.POST("/intent", askHandler.Classify)
	router.GET("/graph/subgraph", graphHandler.Subgraph)
	router.DELETE("/admin/cache/response", adminHandler.ClearResponseCache)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.WithField("port", cfg.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}

// logTemplateSweep validates every catalogue template at boot so a bad
// template is visible before the first request hits it.
func logTemplateSweep(guards *security.Guards) {
	for _, intent := range graphrag.ListIntents() {
		if intent == graphrag.IntentGeneralLLM {
			continue
		}
		template, err := graphrag.GetTemplate(intent)
		if err != nil {
			continue
		}
		if err := guards.ValidateTemplate(template.Query); err != nil {
			log.WithFields(log.Fields{
				"intent": intent,
				"error":  err.Error(),
			}).Fatal("Template failed startup security validation")
		}
	}
	log.WithField("templates", len(graphrag.ListIntents())).Info("Template catalogue validated")
}
