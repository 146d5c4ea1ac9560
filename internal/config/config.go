package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	AI        AIConfig
	Chat      ChatConfig
	Session   SessionConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int // SSE 长连接需要为 0 或足够大
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string // postgres | sqlite
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	Path         string // sqlite 文件路径
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置，Host 为空表示不启用
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	Format     string // json | console
	File       string // 为空时只输出到 stderr
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

// AIConfig 上游模型配置
type AIConfig struct {
	Provider        string
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float32
	MaxTokens       int
	ClassifyTimeout time.Duration
	GenerateTimeout time.Duration
}

// ChatConfig 对话流程配置
type ChatConfig struct {
	HistoryBudget      int
	SystemPrompt       string
	ClassifierPrompt   string
	UserPromptTemplate string
	RefusalText        string
	BusyText           string
	TruncationWarning  string
	StopToken          string
	RevealDelay        time.Duration
	PersistReplies     bool
	ErrorAction        string
}

// SessionConfig 会话 Cookie 配置
type SessionConfig struct {
	Secret       string
	CookieName   string
	CookiePath   string
	CookieMaxAge time.Duration
	CookieSecure bool
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins     []string
	AllowCredentials bool
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// Load 加载配置
// 读取顺序: .env -> 默认值 -> 配置文件 -> NEXT_CHAT_ 环境变量
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("NEXT_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.apiKey", "NEXT_CHAT_AI_APIKEY", "OPENAI_API_KEY")
	_ = v.BindEnv("session.secret", "NEXT_CHAT_SESSION_SECRET", "SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必要配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Chat.HistoryBudget < 0 {
		return fmt.Errorf("chat.historyBudget must be >= 0, got %d", c.Chat.HistoryBudget)
	}
	if c.Chat.StopToken == "" {
		return errors.New("chat.stopToken is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rateLimit.requests and rateLimit.window must be positive")
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled Redis 是否启用
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "next-chat")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", false)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)

	// Database
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "next_chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "next-chat.db")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSize", 100)
	v.SetDefault("log.maxAge", 28)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.compress", true)

	// AI
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.apiKey", "")
	v.SetDefault("ai.baseUrl", "") // 为空时按 provider 选择
	v.SetDefault("ai.model", "gpt-3.5-turbo")
	v.SetDefault("ai.temperature", 0.5)
	v.SetDefault("ai.maxTokens", 500)
	v.SetDefault("ai.classifyTimeout", 20*time.Second)
	v.SetDefault("ai.generateTimeout", 120*time.Second)

	// Chat
	v.SetDefault("chat.historyBudget", 2000)
	v.SetDefault("chat.systemPrompt", defaultSystemPrompt)
	v.SetDefault("chat.classifierPrompt", defaultClassifierPrompt)
	v.SetDefault("chat.userPromptTemplate", "■お客様のご要望(会話履歴):\n%s\n")
	v.SetDefault("chat.refusalText", "私は福祉の仕事についてお話をするAIチャットボットです。このメッセージにはお答えすることができません。")
	v.SetDefault("chat.busyText", "現在サーバーが過不可です。しばらく時間をおいてからお試しください。")
	v.SetDefault("chat.truncationWarning", "stop_質問文が長すぎるため、短くしてお試しください。")
	v.SetDefault("chat.stopToken", "stop")
	v.SetDefault("chat.revealDelay", 50*time.Millisecond)
	v.SetDefault("chat.persistReplies", false)
	v.SetDefault("chat.errorAction", "エラーメッセージ")

	// Session
	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookieName", "chat_session")
	v.SetDefault("session.cookiePath", "/")
	v.SetDefault("session.cookieMaxAge", 30*24*time.Hour)
	v.SetDefault("session.cookieSecure", false)

	// CORS
	v.SetDefault("cors.allowOrigins", []string{"http://localhost:8080"})
	v.SetDefault("cors.allowCredentials", true)

	// RateLimit
	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.requests", 6)
	v.SetDefault("rateLimit.window", time.Minute)
}

const defaultSystemPrompt = `あなたは福祉関係の仕事に努めている男性です。
福祉の仕事についての相談や仕事を行う上での必要な知識を質問者に回答します。
福祉に関係のない質問については、答えないでください。
福祉以外の質問については、「専門外の質問です。福祉についてなにか質問はありますか？」と回答してください。`

const defaultClassifierPrompt = `あなたは福祉についてのHPを運営しています。
福祉の仕事についての相談や仕事を行う上での必要な知識を質問者の質問から読み取り、回答します。`
