package main

import (
	"context"
	"log"
	"time"

	"github.com/storymint/verification-engine/internal/api"
	"github.com/storymint/verification-engine/internal/config"
	"github.com/storymint/verification-engine/internal/db"
	"github.com/storymint/verification-engine/internal/embedding"
	"github.com/storymint/verification-engine/internal/license"
	"github.com/storymint/verification-engine/internal/llm"
	"github.com/storymint/verification-engine/internal/minttoken"
	"github.com/storymint/verification-engine/internal/signer"
	"github.com/storymint/verification-engine/internal/similarity"
	"github.com/storymint/verification-engine/internal/vecindex"
	"github.com/storymint/verification-engine/internal/worker"
)

func main() {
	log.Println("Starting StoryMint IP Verification Engine (trust + content admission core)...")

	// ─── Configuration ──────────────────────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// Persistence is not optional: every state transition linearizes in the
	// database, so the engine must not start without it.
	dbConn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.InitSchema(); err != nil {
		log.Fatalf("FATAL: DB schema init failed: %v", err)
	}

	sig, err := signer.New(cfg.BackendVerifierPrivateKey)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	embedder := embedding.NewProvider(embedding.Config{
		Endpoint:       cfg.EmbeddingEndpoint,
		APIKey:         cfg.EmbeddingAPIKey,
		Model:          cfg.EmbeddingModel,
		Dimension:      cfg.EmbeddingDim,
		MaxVideoFrames: cfg.MaxVideoFrames,
		IPFSGateway:    cfg.IPFSGateway,
	})

	vecClient := vecindex.NewClient(vecindex.Config{
		Endpoint:  cfg.VectorEndpoint,
		APIKey:    cfg.VectorAPIKey,
		IndexName: cfg.VectorIndexName,
	})
	readyCtx, cancelReady := context.WithTimeout(context.Background(), 60*time.Second)
	if err := vecClient.WaitReady(readyCtx, 6, 5*time.Second); err != nil {
		log.Printf("Warning: vector index not reachable yet, continuing: %v", err)
	}
	cancelReady()

	var adjudicator similarity.Adjudicator
	if cfg.EnableLLMAnalysis {
		adjudicator = llm.NewAdjudicator(llm.Config{
			Endpoint: cfg.LLMEndpoint,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
		})
		log.Printf("LLM adjudication enabled (model: %s)", cfg.LLMModel)
	}

	// Setup WebSocket Hub for the moderation dashboard
	wsHub := api.NewHub()
	go wsHub.Run()

	engine := similarity.NewEngine(similarity.Config{
		ThresholdClean:      cfg.ThresholdClean,
		ThresholdWarn:       cfg.ThresholdWarn,
		TopK:                cfg.SimilarityTopK,
		NamespacePending:    cfg.NamespacePending,
		NamespaceRegistered: cfg.NamespaceRegistered,
		EnableLLM:           cfg.EnableLLMAnalysis,
	}, dbConn, embedder, vecClient, adjudicator, api.BroadcastBlockedAlert(wsHub))

	tokens := minttoken.NewService(dbConn, sig, engine)
	licenses := license.NewCache(dbConn)

	// Background expiry sweep, independent of request handlers
	sweeper := worker.NewExpiryWorker(dbConn, api.BroadcastExpirySweep(wsHub))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(tokens, engine, licenses, dbConn, wsHub, sweeper)

	log.Printf("Engine running on :%s (verifier: %s)", cfg.Port, sig.Address().Hex())
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
