package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/norell/slidecast/internal/api"
	"github.com/norell/slidecast/internal/assembly"
	"github.com/norell/slidecast/internal/config"
	"github.com/norell/slidecast/internal/db"
	"github.com/norell/slidecast/internal/pipeline"
	"github.com/norell/slidecast/internal/queue"
	"github.com/norell/slidecast/internal/scenes"
	"github.com/norell/slidecast/internal/services"
	"github.com/norell/slidecast/internal/worker"
)

func main() {
	log.Println("Starting Slidecast API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	if err := database.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Generation services
	genCfg := services.GeminiConfig{
		MaxAttempts:      cfg.MaxAttempts,
		TextBackoff:      cfg.TextBackoff,
		ImageBackoff:     cfg.ImageBackoff,
		MinSceneCount:    cfg.MinSceneCount,
		MinSceneFraction: cfg.MinSceneFraction,
	}
	geminiSvc := services.NewGeminiService(cfg.GeminiKey, genCfg)
	speechSvc := services.NewSpeechService(geminiSvc, "", genCfg)
	if cfg.GeminiKey == "" {
		log.Println("No GEMINI_API_KEY set — waiting for a key via PUT /v1/credential")
	}

	// Story backend: Gemini by default, OpenAI when configured
	var storySvc services.StoryService = geminiSvc
	if cfg.OpenAIKey != "" {
		storySvc = services.NewOpenAIStoryService(cfg.OpenAIKey, genCfg)
		log.Println("Story backend: OpenAI")
	}

	store := scenes.NewStore()
	orch := pipeline.NewOrchestrator(store, &backend{GeminiService: geminiSvc, story: storySvc}, speechSvc, pipeline.Config{
		SceneDelay:      cfg.SceneDelay,
		ImageDelay:      cfg.ImageDelay,
		PromptsPerScene: 2,
		AspectRatio:     "16:9",
	})

	asm, err := assembly.NewAssembler(assembly.Config{
		OutputDir:            cfg.OutputDir,
		FPS:                  cfg.VideoFPS,
		DefaultSlideDuration: cfg.DefaultSlideDuration,
		ZoomNear:             cfg.ZoomNear,
		ZoomFar:              cfg.ZoomFar,
		StandardHeight:       cfg.StandardVideoHeight,
		HighHeight:           cfg.HighVideoHeight,
		StandardBitrate:      cfg.StandardVideoBitrate,
		HighBitrate:          cfg.HighVideoBitrate,
	})
	if err != nil {
		log.Fatalf("Failed to initialize assembler: %v", err)
	}

	// Create API handler
	handler := api.NewHandler(database, q, store, orch, geminiSvc)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")
		w := worker.New(database, q, store, orch, asm, cfg.DefaultSlideDuration)
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server exited")
}

// backend combines the Gemini prompt/image surface with whichever story
// provider is configured.
type backend struct {
	*services.GeminiService
	story services.StoryService
}

func (b *backend) GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error) {
	return b.story.GenerateStory(ctx, topic, targetLength, sceneCount)
}
