package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Tools     ToolsConfig
	Retrieval RetrievalConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint  string
	APIKey    string
	VectorDim int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider            string
	BaseURL             string
	Model               string
	FollowUpModel       string
	APIKey              string
	Temperature         float32
	MaxTokens           int
	TimeoutSec          int
	EmbeddingModel      string
	EmbeddingDim        int
	InitialSystemPrompt string
	FinalSystemPrompt   string
}

type ToolsConfig struct {
	NewsAPIKey     string
	NewsMaxResults int
	CacheTTLSec    int
	TimeoutSec     int
}

// RetrievalConfig holds per-modality similarity thresholds and result limits.
// Cross-modal (image/frame) thresholds sit well below same-modality ones
// because CLIP-style scores are systematically lower.
type RetrievalConfig struct {
	DocThreshold             float64
	ImageThreshold           float64
	FrameThreshold           float64
	VideoTranscriptThreshold float64
	AudioTranscriptThreshold float64
	MemoryThreshold          float64
	ChatThreshold            float64

	DocLimit             int
	ImageLimit           int
	FrameLimit           int
	VideoTranscriptLimit int
	AudioTranscriptLimit int
	MemoryLimit          int
	ChatLimit            int
	RecentHistoryLimit   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/modalbot")

	viper.SetEnvPrefix("MODALBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.EmbeddingDim != config.Milvus.VectorDim {
		return nil, fmt.Errorf("llm.embeddingDim (%d) does not match milvus.vectorDim (%d)",
			config.LLM.EmbeddingDim, config.Milvus.VectorDim)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 120)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/modalbot.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.followUpModel", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.initialSystemPrompt",
		"Identify the best tool(s) to answer the user's query based on the available data sources (documents, images, news, financial data).")
	viper.SetDefault("llm.finalSystemPrompt",
		"Based on the provided context and the user's query, provide a very concise answer, ideally just a few words.")

	viper.SetDefault("tools.newsMaxResults", 5)
	viper.SetDefault("tools.cacheTTLSec", 300)
	viper.SetDefault("tools.timeoutSec", 10)

	viper.SetDefault("retrieval.docThreshold", 0.5)
	viper.SetDefault("retrieval.imageThreshold", 0.25)
	viper.SetDefault("retrieval.frameThreshold", 0.25)
	viper.SetDefault("retrieval.videoTranscriptThreshold", 0.7)
	viper.SetDefault("retrieval.audioTranscriptThreshold", 0.6)
	viper.SetDefault("retrieval.memoryThreshold", 0.8)
	viper.SetDefault("retrieval.chatThreshold", 0.8)

	viper.SetDefault("retrieval.docLimit", 20)
	viper.SetDefault("retrieval.imageLimit", 5)
	viper.SetDefault("retrieval.frameLimit", 5)
	viper.SetDefault("retrieval.videoTranscriptLimit", 20)
	viper.SetDefault("retrieval.audioTranscriptLimit", 30)
	viper.SetDefault("retrieval.memoryLimit", 10)
	viper.SetDefault("retrieval.chatLimit", 10)
	viper.SetDefault("retrieval.recentHistoryLimit", 4)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
