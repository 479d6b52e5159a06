package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config gathers every environment knob the engine reads. Secrets have no
// fallback defaults; Load fails instead of starting half-configured.
type Config struct {
	// Persistence
	DatabaseURL string

	// Verifier key used to sign mint authorizations.
	BackendVerifierPrivateKey string

	// Embedding backend
	EmbeddingEndpoint string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingDim      int
	MaxVideoFrames    int
	IPFSGateway       string

	// Vector index
	VectorEndpoint        string
	VectorAPIKey          string
	VectorIndexName       string
	NamespaceRegistered   string
	NamespacePending      string
	SimilarityTopK        int

	// LLM adjudicator
	LLMEndpoint       string
	LLMAPIKey         string
	LLMModel          string
	EnableLLMAnalysis bool

	// Threshold classification: score <= ThresholdClean is CLEAN,
	// score <= ThresholdWarn is WARNING, above is BLOCKED.
	ThresholdClean int
	ThresholdWarn  int

	Port string
}

// Load reads the configuration from the environment. Missing required
// variables and threshold invariant violations are returned as errors so
// main can fail fast before touching any collaborator.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		BackendVerifierPrivateKey: os.Getenv("BACKEND_VERIFIER_PRIVATE_KEY"),

		EmbeddingEndpoint: getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.jina.ai/v1/embeddings"),
		EmbeddingAPIKey:   os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:    getEnvOrDefault("EMBEDDING_MODEL", "jina-clip-v2"),
		IPFSGateway:       getEnvOrDefault("IPFS_GATEWAY", "https://ipfs.io/ipfs/"),

		VectorEndpoint:      os.Getenv("VECTOR_INDEX_ENDPOINT"),
		VectorAPIKey:        os.Getenv("VECTOR_INDEX_API_KEY"),
		VectorIndexName:     getEnvOrDefault("VECTOR_INDEX_NAME", "ip-assets"),
		NamespaceRegistered: getEnvOrDefault("VECTOR_NAMESPACE_REGISTERED", "registered"),
		NamespacePending:    getEnvOrDefault("VECTOR_NAMESPACE_PENDING", "pending"),

		LLMEndpoint:       getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMModel:          getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		EnableLLMAnalysis: os.Getenv("ENABLE_LLM_ANALYSIS") == "true",

		Port: getEnvOrDefault("PORT", "5340"),
	}

	var err error
	if cfg.EmbeddingDim, err = getEnvInt("EMBEDDING_DIM", 1024); err != nil {
		return nil, err
	}
	if cfg.MaxVideoFrames, err = getEnvInt("MAX_VIDEO_FRAMES", 300); err != nil {
		return nil, err
	}
	if cfg.SimilarityTopK, err = getEnvInt("SIMILARITY_TOP_K", 10); err != nil {
		return nil, err
	}
	if cfg.ThresholdClean, err = getEnvInt("SIMILARITY_THRESHOLD_CLEAN", 40); err != nil {
		return nil, err
	}
	if cfg.ThresholdWarn, err = getEnvInt("SIMILARITY_THRESHOLD_WARN", 75); err != nil {
		return nil, err
	}

	if cfg.BackendVerifierPrivateKey == "" {
		return nil, fmt.Errorf("required environment variable BACKEND_VERIFIER_PRIVATE_KEY is not set")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variable DATABASE_URL is not set")
	}
	if err := ValidateThresholds(cfg.ThresholdClean, cfg.ThresholdWarn); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateThresholds enforces 0 <= clean < warn <= 100. A violation is a
// startup-time configuration error, never a per-request one.
func ValidateThresholds(clean, warn int) error {
	if clean < 0 || warn > 100 || clean >= warn {
		return fmt.Errorf("invalid similarity thresholds: clean=%d warn=%d (need 0 <= clean < warn <= 100)", clean, warn)
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s is not an integer: %q", key, val)
	}
	return n, nil
}
