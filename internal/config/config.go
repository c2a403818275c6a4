package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"StepScope/pkg/logger"
)

// EnvConfigPath 是未显式指定配置路径时读取的环境变量。
const EnvConfigPath = "STEPSCOPE_CONFIG"

// DefaultHostVersion 是配置未指定时用于校验插件的宿主版本。
const DefaultHostVersion = "2.361.4"

// Config 汇总运行所需的全部配置。
type Config struct {
	Plugins   PluginsConfig   `yaml:"plugins"`
	Host      HostConfig      `yaml:"host"`
	Reactor   ReactorConfig   `yaml:"reactor"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PluginsConfig 描述插件归档的位置。
type PluginsConfig struct {
	Dir string `yaml:"dir"`
	// Strict 为 true 时任何损坏的归档都会中止运行。
	Strict *bool `yaml:"strict"`
	// HostManifest 可选，列出宿主内置的扩展。
	HostManifest string `yaml:"hostManifest"`
}

// HostConfig 描述被模拟的宿主应用。
type HostConfig struct {
	Version string `yaml:"version"`
}

// ReactorConfig 调整初始化反应器。
type ReactorConfig struct {
	Workers       int   `yaml:"workers"`
	SkipHostTasks *bool `yaml:"skipHostTasks"`
}

// DiscoveryConfig 选择初始化完成后列出的能力。
type DiscoveryConfig struct {
	Capability string `yaml:"capability"`
}

// MetricsConfig 控制指标导出。
type MetricsConfig struct {
	// Textfile 非空时，运行结束后写入 Prometheus 文本格式。
	Textfile string `yaml:"textfile"`
}

// IsStrict 判断是否严格加载插件目录。
func (c PluginsConfig) IsStrict() bool {
	return c.Strict == nil || *c.Strict
}

// SkipsHostTasks 判断是否跳过宿主应用任务。
func (c ReactorConfig) SkipsHostTasks() bool {
	return c.SkipHostTasks == nil || *c.SkipHostTasks
}

// Default 返回指定插件目录的默认配置。
func Default(pluginDir string) *Config {
	cfg := &Config{Plugins: PluginsConfig{Dir: pluginDir}}
	cfg.applyDefaults("")
	return cfg
}

// Load 读取 YAML 配置文件。路径为空时回退到 EnvConfigPath，
// 两者都为空时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return Default(""), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 填充未设置的字段，相对路径基于 baseDir 解析。
func (c *Config) applyDefaults(baseDir string) {
	c.Plugins.Dir = resolve(baseDir, c.Plugins.Dir)
	c.Plugins.HostManifest = resolve(baseDir, c.Plugins.HostManifest)
	c.Metrics.Textfile = resolve(baseDir, c.Metrics.Textfile)

	if c.Host.Version == "" {
		c.Host.Version = DefaultHostVersion
	}
	if c.Discovery.Capability == "" {
		c.Discovery.Capability = "step"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Audit.Enabled {
		c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path)
	}
}

// Validate 校验配置是否一致。
func (c *Config) Validate() error {
	if c.Reactor.Workers < 0 {
		return errors.New("reactor.workers cannot be negative")
	}
	if strings.TrimSpace(c.Discovery.Capability) == "" {
		return errors.New("discovery.capability cannot be empty")
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		return errors.New("log.audit.path is required when auditing is enabled")
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
