package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Voice  VoiceConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Voice: voice, Log: loadLogConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, CORSOrigins: parseListEnv("CORS_ORIGINS")}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: parseListEnv("CORS_ORIGINS")}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey              string
	AccessKey           string
	SecretKey           string
	Model               string
	BaseURL             string
	Region              string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	EmotionLLMEnabled   bool
	EmotionHistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	emotionEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	emotionHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_EMOTION_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			emotionHistory = 1
		} else {
			emotionHistory = *historyOverride
		}
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("Model")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		EmotionLLMEnabled:   emotionEnabled,
		EmotionHistoryLimit: emotionHistory,
	}, nil
}

// Transport 取值。
const (
	TransportBedrock = "bedrock"
	TransportRelay   = "relay"
)

// VoiceConfig 描述语音会话与上游模型相关配置。
type VoiceConfig struct {
	Transport       string
	Region          string
	ModelID         string
	RelayURL        string
	RelayGzip       bool
	DefaultVoice    string
	MaxTokens       int
	TopP            float64
	Temperature     float64
	ChunkInterval   time.Duration
	Watchdog        time.Duration
	HandshakeDelay  time.Duration
	WriteTimeout    time.Duration
	InputRate       int
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	RoleARN         string
}

// HasStaticCredentials 表示是否显式提供了 AK/SK。
func (c VoiceConfig) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func loadVoiceConfig() (VoiceConfig, error) {
	transportName := strings.ToLower(getEnvOrDefault("VOICE_TRANSPORT", TransportBedrock))
	switch transportName {
	case TransportBedrock, TransportRelay:
	default:
		return VoiceConfig{}, fmt.Errorf("invalid VOICE_TRANSPORT value %q", transportName)
	}

	maxTokens := 1024
	if override, err := parseOptionalIntEnv("VOICE_MAX_TOKENS"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return VoiceConfig{}, fmt.Errorf("invalid VOICE_MAX_TOKENS value %d", *override)
		}
		maxTokens = *override
	}

	topP := 0.9
	if override, err := parseOptionalFloatEnv("VOICE_TOP_P"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		topP = *override
	}

	temperature := 0.7
	if override, err := parseOptionalFloatEnv("VOICE_TEMPERATURE"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	chunk, err := parseDurationEnv("VOICE_CHUNK_INTERVAL", 100*time.Millisecond)
	if err != nil {
		return VoiceConfig{}, err
	}
	watchdog, err := parseDurationEnv("VOICE_WATCHDOG", 10*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}
	handshakeDelay, err := parseDurationEnv("VOICE_HANDSHAKE_DELAY", 30*time.Millisecond)
	if err != nil {
		return VoiceConfig{}, err
	}
	writeTimeout, err := parseDurationEnv("VOICE_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}

	inputRate := 16000
	if override, err := parseOptionalIntEnv("VOICE_INPUT_RATE"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		if *override < 8000 {
			return VoiceConfig{}, fmt.Errorf("invalid VOICE_INPUT_RATE value %d", *override)
		}
		inputRate = *override
	}

	relayGzip, err := parseBoolEnv("VOICE_RELAY_GZIP", false)
	if err != nil {
		return VoiceConfig{}, err
	}

	relayURL := strings.TrimSpace(os.Getenv("VOICE_RELAY_URL"))
	if transportName == TransportRelay && relayURL == "" {
		return VoiceConfig{}, fmt.Errorf("VOICE_RELAY_URL is required when VOICE_TRANSPORT=relay")
	}

	return VoiceConfig{
		Transport:       transportName,
		Region:          getEnvOrDefault("AWS_REGION", "us-east-1"),
		ModelID:         getEnvOrDefault("VOICE_MODEL_ID", "amazon.nova-sonic-v1:0"),
		RelayURL:        relayURL,
		RelayGzip:       relayGzip,
		DefaultVoice:    getEnvOrDefault("VOICE_DEFAULT_VOICE", "matthew"),
		MaxTokens:       maxTokens,
		TopP:            topP,
		Temperature:     temperature,
		ChunkInterval:   chunk,
		Watchdog:        watchdog,
		HandshakeDelay:  handshakeDelay,
		WriteTimeout:    writeTimeout,
		InputRate:       inputRate,
		AccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
		SessionToken:    strings.TrimSpace(os.Getenv("AWS_SESSION_TOKEN")),
		Profile:         strings.TrimSpace(os.Getenv("AWS_PROFILE")),
		RoleARN:         strings.TrimSpace(os.Getenv("AWS_ROLE_ARN")),
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 解析 time.ParseDuration 格式，纯数字按毫秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: negative", key, raw)
	}
	return val, nil
}

func parseListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
