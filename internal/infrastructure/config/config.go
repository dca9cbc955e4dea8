package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 是应用程序配置的结构体
type Config struct {
	Analyzer      AnalyzerConfig      `mapstructure:"analyzer"`
	TCPServer     TCPServerConfig     `mapstructure:"tcpServer"`
	HTTPAPIServer HTTPAPIServerConfig `mapstructure:"httpApiServer"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

// AnalyzerConfig 报文解析配置
type AnalyzerConfig struct {
	// Region 默认地区，请求未指定地区时使用
	Region string `mapstructure:"region"`
	// SchemaFiles 协议族 -> XML 配置文件，未配置的协议族使用内置配置
	SchemaFiles map[string]string `mapstructure:"schemaFiles"`
	// MaxFrameBytes 单次解析允许的最大报文字节数
	MaxFrameBytes int `mapstructure:"maxFrameBytes"`
}

// TCPServerConfig TCP服务器配置
type TCPServerConfig struct {
	Enabled bool       `mapstructure:"enabled" yaml:"enabled"`
	Host    string     `mapstructure:"host" yaml:"host"`
	Port    int        `mapstructure:"port" yaml:"port"`
	Zinx    ZinxConfig `mapstructure:"zinx" yaml:"zinx"`
}

// ZinxConfig Zinx框架配置
type ZinxConfig struct {
	Name             string `mapstructure:"name"`
	Version          string `mapstructure:"version"`
	MaxConn          int    `mapstructure:"maxConn"`
	WorkerPoolSize   int    `mapstructure:"workerPoolSize"`
	MaxWorkerTaskLen int    `mapstructure:"maxWorkerTaskLen"`
	MaxPacketSize    uint32 `mapstructure:"maxPacketSize"`
}

// HTTPAPIServerConfig HTTP API服务器配置
type HTTPAPIServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

// RedisConfig Redis配置，用于多实例间同步协议配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"poolSize"`
	MinIdleConns int    `mapstructure:"minIdleConns"`
	DialTimeout  int    `mapstructure:"dialTimeout"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
	KeyPrefix    string `mapstructure:"keyPrefix"`
	Channel      string `mapstructure:"channel"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	FilePath      string `mapstructure:"filePath"`
	FrameLogPath  string `mapstructure:"frameLogPath"`
	MaxSizeMB     int    `mapstructure:"maxSizeMB"`
	MaxBackups    int    `mapstructure:"maxBackups"`
	MaxAgeDays    int    `mapstructure:"maxAgeDays"`
	Compress      bool   `mapstructure:"compress"`
	LogHexDump    bool   `mapstructure:"logHexDump"`
	EnableConsole bool   `mapstructure:"enableConsole"`
}

// 全局配置实例
var GlobalConfig = Default()

// Default 默认配置，配置文件中未出现的字段保持默认值
func Default() Config {
	return Config{
		Analyzer: AnalyzerConfig{
			Region:        "南网",
			MaxFrameBytes: 4096,
		},
		TCPServer: TCPServerConfig{
			Host: "0.0.0.0",
			Port: 7055,
			Zinx: ZinxConfig{
				Name:             "meter-frame-analyzer",
				Version:          "V1.0",
				MaxConn:          1000,
				WorkerPoolSize:   8,
				MaxWorkerTaskLen: 1024,
				MaxPacketSize:    4096,
			},
		},
		HTTPAPIServer: HTTPAPIServerConfig{
			Host:           "0.0.0.0",
			Port:           7056,
			TimeoutSeconds: 10,
		},
		Redis: RedisConfig{
			Address:      "127.0.0.1:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5,
			ReadTimeout:  3,
			WriteTimeout: 3,
			KeyPrefix:    "meter:schema",
			Channel:      "meter:schema:update",
		},
		Logger: LoggerConfig{
			Level:         "info",
			Format:        "text",
			MaxSizeMB:     100,
			MaxBackups:    7,
			MaxAgeDays:    30,
			EnableConsole: true,
		},
	}
}

// Load 加载配置文件
func Load(configPath string) error {
	cfg, err := Read(configPath)
	if err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// Read 读取配置文件但不修改全局配置
func Read(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ANALYZER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return &GlobalConfig
}

// FormatHTTPAddress 格式化HTTP服务器地址为host:port格式
func FormatHTTPAddress() string {
	cfg := GetConfig().HTTPAPIServer
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}
