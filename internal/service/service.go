package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-chat/internal/config"
	"github.com/ashwinyue/next-chat/internal/database"
	"github.com/ashwinyue/next-chat/internal/metrics"
	"github.com/ashwinyue/next-chat/internal/repository"
	"github.com/ashwinyue/next-chat/internal/service/callback"
	"github.com/ashwinyue/next-chat/internal/service/chat"
	"github.com/ashwinyue/next-chat/internal/service/classifier"
	"github.com/ashwinyue/next-chat/internal/service/history"
	"github.com/ashwinyue/next-chat/internal/service/session"
	"github.com/ashwinyue/next-chat/internal/service/streamer"
)

// 兼容 OpenAI 协议的供应商默认地址
var providerBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"deepseek":  "https://api.deepseek.com/v1",
	"dashscope": "https://dashscope.aliyuncs.com/compatible-mode/v1",
}

// Services 服务集合
type Services struct {
	Chat     *chat.Service
	Sessions *session.Store
	Tokens   *session.TokenCodec
	Registry *session.StreamRegistry

	// 基础设施
	Config  *config.Config
	DB      *database.DB
	Redis   *redis.Client // 未配置时为 nil
	Metrics *metrics.Metrics
}

// NewServices 创建所有服务，按配置连接上游模型
func NewServices(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, log *zap.Logger) (*Services, error) {
	chatModel, err := newChatModel(ctx, &cfg.AI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	svc, err := NewServicesWithModel(cfg, db, redisClient, chatModel, log)
	if err != nil {
		return nil, err
	}
	callback.SetupGlobalCallbacks(log, svc.Metrics)
	return svc, nil
}

// NewServicesWithModel 使用给定的模型创建服务
func NewServicesWithModel(cfg *config.Config, db *database.DB, redisClient *redis.Client, chatModel model.ToolCallingChatModel, log *zap.Logger) (*Services, error) {
	repos := repository.NewRepositories(db.DB)
	m := metrics.New()

	tokens, err := session.NewTokenCodec(cfg.Session.Secret, cfg.Session.CookieMaxAge)
	if err != nil {
		return nil, err
	}
	if cfg.Session.Secret == "" {
		log.Warn("session secret not configured, cookies will not survive a restart")
	}

	sessions := session.NewStore(repos.Chat, log)
	hist := history.NewStore(repos.Chat, sessions, log)
	registry := session.NewStreamRegistry()

	cls, err := classifier.New(chatModel, cfg.Chat.ClassifierPrompt, cfg.AI.ClassifyTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	str := streamer.New(chatModel, streamer.Config{
		SystemPrompt:       cfg.Chat.SystemPrompt,
		UserPromptTemplate: cfg.Chat.UserPromptTemplate,
		Temperature:        cfg.AI.Temperature,
		MaxTokens:          cfg.AI.MaxTokens,
		Timeout:            cfg.AI.GenerateTimeout,
		RefusalText:        cfg.Chat.RefusalText,
		BusyText:           cfg.Chat.BusyText,
		TruncationWarning:  cfg.Chat.TruncationWarning,
		StopToken:          cfg.Chat.StopToken,
		RevealDelay:        cfg.Chat.RevealDelay,
	}, log)

	chatSvc := chat.NewService(sessions, hist, cls, str, registry, m, chat.Options{
		HistoryBudget:  cfg.Chat.HistoryBudget,
		PersistReplies: cfg.Chat.PersistReplies,
		BusyText:       cfg.Chat.BusyText,
		ErrorAction:    cfg.Chat.ErrorAction,
	}, log)

	return &Services{
		Chat:     chatSvc,
		Sessions: sessions,
		Tokens:   tokens,
		Registry: registry,
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Metrics:  m,
	}, nil
}

// newChatModel 创建 ChatModel
// httpClient 为空时使用默认客户端
func newChatModel(ctx context.Context, aiCfg *config.AIConfig, httpClient *http.Client) (model.ToolCallingChatModel, error) {
	baseURL := aiCfg.BaseURL
	if baseURL == "" {
		var ok bool
		if baseURL, ok = providerBaseURLs[aiCfg.Provider]; !ok {
			return nil, fmt.Errorf("unsupported ai provider: %s", aiCfg.Provider)
		}
	}

	if aiCfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for provider: %s", aiCfg.Provider)
	}

	modelName := aiCfg.Model
	if modelName == "" {
		modelName = "gpt-3.5-turbo"
	}

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:     aiCfg.APIKey,
		BaseURL:    baseURL,
		Model:      modelName,
		HTTPClient: httpClient,
	})
}
