package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 配置加载（API密钥、交易参数等）

type BitgetConfig struct {
	ApiKey     string `yaml:"apiKey" validate:"required"`
	SecretKey  string `yaml:"secretKey" validate:"required"`
	Passphrase string `yaml:"passphrase" validate:"required"`
	BaseURL    string `yaml:"base-url"`
	Sandbox    bool   `yaml:"sandbox"`
}

// TradingConfig 交易与风控参数
type TradingConfig struct {
	Enabled            bool          `yaml:"enabled"`          // 总开关：关闭时只解析不下单
	DefaultAmount      float64       `yaml:"default-amount"`   // 默认保证金（USDT）
	DefaultLeverage    int           `yaml:"default-leverage" validate:"min=1,max=125"`
	RiskPercentage     float64       `yaml:"risk-percentage"`  // 单笔风险占余额百分比
	MaxPositionSize    float64       `yaml:"max-position-size"`
	MaxDailyLoss       float64       `yaml:"max-daily-loss"` // 日最大亏损（USDT）
	MaxTradesPerDay    int           `yaml:"max-trades-per-day"`
	MaxConsecutiveLoss int           `yaml:"max-consecutive-loss"`
	Cooldown           time.Duration `yaml:"cooldown"`         // 两笔交易之间的最小间隔
	AutoStopLossAmount float64       `yaml:"auto-stop-loss"`   // 固定亏损止损金额（USDT），0表示不挂
	UseSignalStops     bool          `yaml:"use-signal-stops"` // 是否按信号里的止盈止损挂单
}

// MonitorConfig 价格监控参数
type MonitorConfig struct {
	PollInterval  time.Duration `yaml:"poll-interval"`  // 有目标时的轮询间隔
	IdleInterval  time.Duration `yaml:"idle-interval"`  // 无目标时的空转间隔
	ContextWindow time.Duration `yaml:"context-window"` // 止盈信号回溯窗口
	ContextSize   int           `yaml:"context-size"`   // 最近信号上下文容量
	ClosePercent  float64       `yaml:"close-percent"`  // 触发时的平仓比例
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Webhook WebhookConfig `yaml:"webhook"`
	Bitget  BitgetConfig  `yaml:"bitget"`
	Trading TradingConfig `yaml:"trading"`
	Monitor MonitorConfig `yaml:"monitor"`
	Db      `yaml:"database"`
	Log     LogConfig   `yaml:"log"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

// 缺省值与原始部署保持一致
func (c *Config) applyDefaults() {
	if c.Trading.DefaultAmount == 0 {
		c.Trading.DefaultAmount = 2.0
	}
	if c.Trading.DefaultLeverage == 0 {
		c.Trading.DefaultLeverage = 20
	}
	if c.Trading.RiskPercentage == 0 {
		c.Trading.RiskPercentage = 2.0
	}
	if c.Trading.MaxPositionSize == 0 {
		c.Trading.MaxPositionSize = 100.0
	}
	if c.Trading.MaxDailyLoss == 0 {
		c.Trading.MaxDailyLoss = c.Trading.MaxPositionSize * 0.05
	}
	if c.Trading.MaxTradesPerDay == 0 {
		c.Trading.MaxTradesPerDay = 50
	}
	if c.Trading.MaxConsecutiveLoss == 0 {
		c.Trading.MaxConsecutiveLoss = 5
	}
	if c.Trading.Cooldown == 0 {
		c.Trading.Cooldown = 30 * time.Minute
	}
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = 30 * time.Second
	}
	if c.Monitor.IdleInterval == 0 {
		c.Monitor.IdleInterval = 10 * time.Second
	}
	if c.Monitor.ContextWindow == 0 {
		c.Monitor.ContextWindow = 5 * time.Minute
	}
	if c.Monitor.ContextSize == 0 {
		c.Monitor.ContextSize = 10
	}
	if c.Monitor.ClosePercent == 0 {
		c.Monitor.ClosePercent = 50.0
	}
	if c.Bitget.BaseURL == "" {
		c.Bitget.BaseURL = "https://api.bitget.com"
	}
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("unmarshal config yaml error: %w", err)
	}
	AppConfig.applyDefaults()

	v := validator.New()
	if err := v.Struct(&AppConfig); err != nil {
		return fmt.Errorf("config validate error: %w", err)
	}
	return nil
}
