package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port        int           `mapstructure:"port"`
		IPv4        string        `mapstructure:"ipv4"`
		IPv6        string        `mapstructure:"ipv6"`
		IsDualStack bool          `mapstructure:"is_dual_stack"`
		Workdir     string        `mapstructure:"workdir"`
		ServerName  string        `mapstructure:"server_name"`
		CGIMarker   string        `mapstructure:"cgi_marker"`
		DefaultDoc  string        `mapstructure:"default_doc"`
		MaxLine     int           `mapstructure:"max_line"`
		DeadLine    time.Duration `mapstructure:"deadline"`
		CGITimeout  time.Duration `mapstructure:"cgi_timeout"`
	} `mapstructure:"server"`

	Logger struct {
		LogToFile bool   `mapstructure:"log_to_file"`
		FilePath  string `mapstructure:"file_path"`
		WithTime  bool   `mapstructure:"with_time"`
	} `mapstructure:"logger"`

	StartTime time.Time `mapstructure:"-"`
}

// 命令行参数名 -> 配置键
var flagKeys = map[string]string{
	"directory":  "server.workdir",
	"ipv4":       "server.ipv4",
	"ipv6":       "server.ipv6",
	"dualstack":  "server.is_dual_stack",
	"cgi-marker": "server.cgi_marker",
	"index":      "server.default_doc",
}

const EnvPrefix = "TINY"

var (
	v       *viper.Viper
	cfg     Config
	cfgLock sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.ipv4", "0.0.0.0")
	v.SetDefault("server.ipv6", "::")
	v.SetDefault("server.is_dual_stack", false)
	v.SetDefault("server.workdir", ".")
	v.SetDefault("server.server_name", "Tiny Web Server")
	v.SetDefault("server.cgi_marker", "cgi-bin")
	v.SetDefault("server.default_doc", "home.html")
	v.SetDefault("server.max_line", 8192)
	v.SetDefault("server.deadline", "0s")
	v.SetDefault("server.cgi_timeout", "0s")

	v.SetDefault("logger.log_to_file", false)
	v.SetDefault("logger.file_path", "logs/tiny.log")
	v.SetDefault("logger.with_time", true)
}

// InitConfig 读取配置
// 优先级: 命令行参数 > 环境变量(.env) > 配置文件 > 默认值
// configFile 为空时在 ./core/config 和 . 中查找 config.yml, 找不到则使用默认值
func InitConfig(configFile string, flags *pflag.FlagSet, envFiles ...string) error {
	if err := loadEnvFiles(envFiles...); err != nil {
		return err
	}

	nv := viper.New()
	setDefaults(nv)
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	if configFile != "" {
		nv.SetConfigFile(configFile)
	} else {
		nv.SetConfigName("config")
		nv.SetConfigType("yml")
		nv.AddConfigPath("./core/config")
		nv.AddConfigPath(".")
	}

	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := nv.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := nv.Unmarshal(&c); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&c); err != nil {
		return err
	}

	cfgLock.Lock()
	c.StartTime = cfg.StartTime
	if c.StartTime.IsZero() {
		c.StartTime = time.Now()
	}
	cfg = c
	v = nv
	cfgLock.Unlock()
	return nil
}

// loadEnvFiles 将存在的 .env 文件载入进程环境, 不覆盖已有变量
func loadEnvFiles(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func validate(c *Config) error {
	if c.Server.CGIMarker == "" {
		return errors.New("server.cgi_marker must not be empty")
	}
	if c.Server.DefaultDoc == "" {
		return errors.New("server.default_doc must not be empty")
	}
	if c.Server.MaxLine <= 0 {
		return fmt.Errorf("server.max_line must be positive, got %d", c.Server.MaxLine)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// Get 返回当前配置的副本
func Get() Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// SetPort 使用命令行位置参数覆盖端口
func SetPort(port int) {
	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg.Server.Port = port
	if v != nil {
		v.Set("server.port", port)
	}
}

// ReloadConfig 重新加载配置文件
// 端口与监听地址在运行期间不变
func ReloadConfig() error {
	cfgLock.RLock()
	nv := v
	cfgLock.RUnlock()
	if nv == nil {
		return errors.New("config not initialized")
	}
	if nv.ConfigFileUsed() != "" {
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	var c Config
	if err := nv.Unmarshal(&c); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&c); err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	c.Server.Port = cfg.Server.Port
	c.Server.IPv4 = cfg.Server.IPv4
	c.Server.IPv6 = cfg.Server.IPv6
	c.Server.IsDualStack = cfg.Server.IsDualStack
	c.StartTime = cfg.StartTime
	cfg = c
	return nil
}

// WatchConfig 监听配置文件变化并热重载, onReload 接收重载结果
// 没有使用配置文件时返回 false
func WatchConfig(onReload func(name string, err error)) bool {
	cfgLock.RLock()
	nv := v
	cfgLock.RUnlock()
	if nv == nil || nv.ConfigFileUsed() == "" {
		return false
	}
	nv.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		err := ReloadConfig()
		if onReload != nil {
			onReload(e.Name, err)
		}
	})
	nv.WatchConfig()
	return true
}

// GoVersion 返回Go版本
func GoVersion() string {
	return strings.TrimPrefix(runtime.Version(), "go")
}

var __VERSION__ = "0.1.0"
var __SERVER_NAME__ = "tinyhttpd"

func TinyVersion() string {
	return __VERSION__
}

func TinyName() string {
	return __SERVER_NAME__
}
