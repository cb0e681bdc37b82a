package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/digiflow/invoice-digitization-service/api"
	"github.com/digiflow/invoice-digitization-service/internal/ai"
	"github.com/digiflow/invoice-digitization-service/internal/auth"
	"github.com/digiflow/invoice-digitization-service/internal/content"
	"github.com/digiflow/invoice-digitization-service/internal/db"
	"github.com/digiflow/invoice-digitization-service/internal/digiflow"
	"github.com/digiflow/invoice-digitization-service/internal/models"
	"github.com/digiflow/invoice-digitization-service/internal/ocr"
	"github.com/digiflow/invoice-digitization-service/internal/pipeline"
	"github.com/digiflow/invoice-digitization-service/internal/rag"
	"github.com/digiflow/invoice-digitization-service/internal/storage"
	"github.com/digiflow/invoice-digitization-service/internal/tokens"
)

func main() {
	// .env is optional; container deployments inject real env vars.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	config, err := loadConfig("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if err := auth.Init(config.Auth); err != nil {
		slog.Error("failed to initialize auth", "err", err)
		os.Exit(1)
	}

	if err := db.Init(config.Database); err != nil {
		slog.Error("database not available", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Init(config.Storage); err != nil {
		slog.Error("storage not available", "err", err)
		os.Exit(1)
	}

	provider, err := ai.NewProvider(config.AI)
	if err != nil {
		slog.Error("failed to create AI provider", "err", err)
		os.Exit(1)
	}
	slog.Info("AI provider ready", "provider", provider.Name(), "vision", provider.SupportsVision())

	engine := ocr.NewTesseract(config.OCR.Binary, config.OCR.Languages, ocr.NewPreprocessor())
	normalizer := content.NewNormalizer(engine)

	encoder, err := tokens.Default()
	if err != nil {
		slog.Error("failed to load token encoder", "err", err)
		os.Exit(1)
	}
	optimizer := tokens.NewOptimizer(encoder)

	processor := pipeline.NewProcessor(normalizer, ai.NewExtractor(provider), optimizer,
		config.Pipeline, config.Tokens.PromptBudget)
	processor.Start()
	defer processor.Stop()

	examples := rag.NewService(provider, optimizer, config.RAG, config.Tokens.EmbeddingBudget)
	timeout := time.Duration(config.Pipeline.TimeoutSeconds) * time.Second
	executor := digiflow.NewExecutor(provider, examples, timeout)

	handler := api.NewHandler(config, processor, normalizer, executor, examples)
	router := handler.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
}

func loadConfig(path string) (*models.Config, error) {
	var config models.Config

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		config.Storage.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		config.Storage.SecretKey = secretKey
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		config.AI.DefaultProvider = provider
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if config.Port == 0 {
		config.Port = 8080
	}
	return &config, nil
}
