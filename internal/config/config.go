package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Gemini (text, images, speech)
	GeminiKey        string
	MaxAttempts      int           // attempts per backend call, rate-limit retries only
	TextBackoff      time.Duration // wait before retrying a rate-limited text/speech call
	ImageBackoff     time.Duration // wait before retrying a rate-limited image call
	MinSceneCount    int           // floor when the user lets the backend choose
	MinSceneFraction float64       // accepted fraction of a requested scene count

	// OpenAI (optional alternate story backend)
	OpenAIKey string

	// Pipeline pacing
	SceneDelay time.Duration // pause between scenes in audio and prompt stages
	ImageDelay time.Duration // pause after each generated image

	// Rendering
	OutputDir            string
	VideoFPS             int
	DefaultSlideDuration float64
	ZoomNear             float64
	ZoomFar              float64
	StandardVideoHeight  int
	HighVideoHeight      int
	StandardVideoBitrate string
	HighVideoBitrate     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),

		GeminiKey:        getEnv("GEMINI_API_KEY", ""),
		MaxAttempts:      getEnvInt("GEMINI_MAX_ATTEMPTS", 3),
		TextBackoff:      getEnvDuration("GEMINI_TEXT_BACKOFF", 65*time.Second),
		ImageBackoff:     getEnvDuration("GEMINI_IMAGE_BACKOFF", 91*time.Second),
		MinSceneCount:    getEnvInt("MIN_SCENE_COUNT", 5),
		MinSceneFraction: getEnvFloat("MIN_SCENE_FRACTION", 0.8),

		OpenAIKey: getEnv("OPENAI_API_KEY", ""),

		SceneDelay: getEnvDuration("SCENE_DELAY", 2*time.Second),
		ImageDelay: getEnvDuration("IMAGE_DELAY", 4*time.Second),

		OutputDir:            getEnv("OUTPUT_DIR", "output"),
		VideoFPS:             getEnvInt("VIDEO_FPS", 30),
		DefaultSlideDuration: getEnvFloat("DEFAULT_SLIDE_DURATION", 4.0),
		ZoomNear:             getEnvFloat("ZOOM_NEAR", 1.0),
		ZoomFar:              getEnvFloat("ZOOM_FAR", 1.15),
		StandardVideoHeight:  getEnvInt("VIDEO_STANDARD_HEIGHT", 720),
		HighVideoHeight:      getEnvInt("VIDEO_HIGH_HEIGHT", 1080),
		StandardVideoBitrate: getEnv("VIDEO_STANDARD_BITRATE", "4M"),
		HighVideoBitrate:     getEnv("VIDEO_HIGH_BITRATE", "8M"),
	}

	// Validate required fields. The Gemini key can also arrive at runtime
	// through the credential endpoint, so it is not required at boot.
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
