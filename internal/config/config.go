package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"AgentKernel/internal/agent"
	"AgentKernel/internal/auth"
	"AgentKernel/internal/events"
	"AgentKernel/internal/kernel"
	"AgentKernel/internal/llm/openai"
	"AgentKernel/internal/memory"
	"AgentKernel/internal/render"
	"AgentKernel/internal/storage/sqlstore"
	"AgentKernel/internal/webextract"
	"AgentKernel/pkg/logger"
)

// EnvPrefix 是环境变量覆盖的前缀。
const EnvPrefix = "AGENTKERNEL_"

// 存储与发布驱动。
const (
	DriverNone     = "none"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
	DriverRabbitMQ = "rabbitmq"
)

// 模型提供方。
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// Config 描述 agentkerneld 启动所需的全部配置。
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    logger.Config      `yaml:"logging"`
	Kernel     kernel.StageConfig `yaml:"kernel"`
	Extraction ExtractionConfig   `yaml:"extraction"`
	Render     RenderConfig       `yaml:"render"`
	Memory     MemoryConfig       `yaml:"memory"`
	Trace      TraceConfig        `yaml:"trace"`
	LLM        LLMConfig          `yaml:"llm"`
	Telemetry  TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig 控制 API 服务监听参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Auth            auth.Config   `yaml:"auth"`
}

// ExtractionConfig 包含链接提取策略与静态抓取默认值。
type ExtractionConfig struct {
	agent.ExtractionPolicy `yaml:",inline"`
	Fetch                  webextract.Config `yaml:"fetch"`
}

// RenderConfig 控制动态渲染。
type RenderConfig struct {
	Enabled    bool                 `yaml:"enabled"`
	QueueGrace time.Duration        `yaml:"queue_grace"`
	Browser    render.BrowserConfig `yaml:"browser"`
}

// MemoryConfig 控制工作记忆容量与持久化方式。
type MemoryConfig struct {
	WorkingLimit int                     `yaml:"working_limit"`
	Driver       string                  `yaml:"driver"`
	DataDir      string                  `yaml:"data_dir"`
	Redis        memory.RedisStoreConfig `yaml:"redis"`
}

// TraceConfig 控制运行轨迹的保留与投递。
type TraceConfig struct {
	Capacity   int             `yaml:"capacity"`
	Audit      bool            `yaml:"audit"`
	Repository sqlstore.Config `yaml:"repository"`
	Publisher  PublisherConfig `yaml:"publisher"`
}

// PublisherConfig 控制运行事件发布。
type PublisherConfig struct {
	Driver   string                `yaml:"driver"`
	RabbitMQ events.RabbitMQConfig `yaml:"rabbitmq"`
}

// LLMConfig 选择模型执行器。
type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	OpenAI     openai.Config `yaml:"openai"`
	EchoPrefix string        `yaml:"echo_prefix"`
}

// TelemetryConfig 控制指标暴露。
type TelemetryConfig struct {
	MetricsAddress string `yaml:"metrics_address"`
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{Kernel: kernel.DefaultStageConfig()}
	cfg.applyDefaults("")
	return cfg
}

// Load 依次读取 .env、YAML 文件与环境变量。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	cfg := &Config{Kernel: kernel.DefaultStageConfig()}
	baseDir := ""
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// 一次运行可能包含两次模型调用和三次提取。
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Kernel.MaxPlanSteps == 0 {
		c.Kernel.MaxPlanSteps = kernel.DefaultStageConfig().MaxPlanSteps
	}
	if c.Kernel.SafetyMode == "" {
		c.Kernel.SafetyMode = kernel.SafetyNormal
	}

	policy := agent.DefaultExtractionPolicy()
	if c.Extraction.MaxLinks <= 0 {
		c.Extraction.MaxLinks = policy.MaxLinks
	}
	if c.Extraction.MaxCharsPerLink <= 0 {
		c.Extraction.MaxCharsPerLink = policy.MaxCharsPerLink
	}
	if c.Extraction.MinChars <= 0 {
		c.Extraction.MinChars = policy.MinChars
	}
	if c.Extraction.Timeout <= 0 {
		c.Extraction.Timeout = policy.Timeout
	}
	if c.Extraction.WeChatTimeout <= 0 {
		c.Extraction.WeChatTimeout = policy.WeChatTimeout
	}

	if c.Render.QueueGrace <= 0 {
		c.Render.QueueGrace = render.DefaultGrace
	}

	if c.Memory.WorkingLimit <= 0 {
		c.Memory.WorkingLimit = memory.DefaultWorkingLimit
	}
	if c.Memory.Driver == "" {
		c.Memory.Driver = DriverNone
	}
	c.Memory.DataDir = resolvePath(baseDir, c.Memory.DataDir, "data")

	if c.Trace.Repository.Driver == "" {
		c.Trace.Repository.Driver = DriverNone
	}
	if c.Trace.Publisher.Driver == "" {
		c.Trace.Publisher.Driver = DriverNone
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderEcho
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) || baseDir == "" {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查配置是否合法。
func (c *Config) Validate() error {
	if err := c.Kernel.Validate(); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	if err := oneOf("memory.driver", c.Memory.Driver, DriverNone, DriverFile, DriverRedis); err != nil {
		return err
	}
	if c.Memory.Driver == DriverRedis && c.Memory.Redis.Address == "" {
		return errors.New("memory.redis.address 不能为空")
	}
	if err := oneOf("trace.repository.driver", c.Trace.Repository.Driver, DriverNone, sqlstore.DriverMySQL, sqlstore.DriverSQLite); err != nil {
		return err
	}
	if c.Trace.Repository.Driver != DriverNone && c.Trace.Repository.DSN == "" {
		return errors.New("trace.repository.dsn 不能为空")
	}
	if err := oneOf("trace.publisher.driver", c.Trace.Publisher.Driver, DriverNone, DriverMemory, DriverRabbitMQ); err != nil {
		return err
	}
	if c.Trace.Publisher.Driver == DriverRabbitMQ && c.Trace.Publisher.RabbitMQ.URL == "" {
		return errors.New("trace.publisher.rabbitmq.url 不能为空")
	}
	if err := oneOf("llm.provider", c.LLM.Provider, ProviderOpenAI, ProviderEcho); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s 不支持 %q，可选值: %s", field, value, strings.Join(allowed, ", "))
}

type lookupFunc func(string) (string, bool)

// applyEnv 使用 AGENTKERNEL_ 前缀的环境变量覆盖配置。
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_ADDRESS", &c.Server.Address)
	if v, ok := lookup(EnvPrefix + "API_TOKEN"); ok && v != "" {
		c.Server.Auth.Tokens = append(c.Server.Auth.Tokens, auth.Token{Name: "env", Value: v})
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	boolean("ENABLED", &c.Kernel.Enabled)
	stage := int(c.Kernel.Stage)
	integer("STAGE", &stage)
	c.Kernel.Stage = kernel.Stage(stage)
	integer("MAX_PLAN_STEPS", &c.Kernel.MaxPlanSteps)
	mode := string(c.Kernel.SafetyMode)
	str("SAFETY_MODE", &mode)
	c.Kernel.SafetyMode = kernel.SafetyMode(mode)

	boolean("RENDER_ENABLED", &c.Render.Enabled)
	str("BROWSER_CONTROL_URL", &c.Render.Browser.ControlURL)
	str("BROWSER_BIN", &c.Render.Browser.Bin)

	str("MEMORY_DRIVER", &c.Memory.Driver)
	str("MEMORY_DATA_DIR", &c.Memory.DataDir)
	str("REDIS_ADDRESS", &c.Memory.Redis.Address)
	str("REDIS_PASSWORD", &c.Memory.Redis.Password)

	str("TRACE_DRIVER", &c.Trace.Repository.Driver)
	str("TRACE_DSN", &c.Trace.Repository.DSN)
	str("PUBLISHER_DRIVER", &c.Trace.Publisher.Driver)
	str("RABBITMQ_URL", &c.Trace.Publisher.RabbitMQ.URL)

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("OPENAI_BASE_URL", &c.LLM.OpenAI.BaseURL)
	str("OPENAI_MODEL", &c.LLM.OpenAI.Model)
	str("OPENAI_API_KEY", &c.LLM.OpenAI.APIKey)
	if c.LLM.OpenAI.APIKey == "" {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			c.LLM.OpenAI.APIKey = v
		}
	}

	str("METRICS_ADDRESS", &c.Telemetry.MetricsAddress)
	return errors.Join(errs...)
}
