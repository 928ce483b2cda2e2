package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"`
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"maxSizeMB"`
		MaxBackups int      `yaml:"maxBackups"`
	} `yaml:"log"`

	DevTools struct {
		URL              string `yaml:"url"`
		ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
	} `yaml:"devtools"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Sync struct {
		ReloadDelayMS int `yaml:"reloadDelayMS"`
	} `yaml:"sync"`

	Cookie struct {
		FlushDelayMS int `yaml:"flushDelayMS"`
	} `yaml:"cookie"`

	Subscription struct {
		TimeoutSec      int `yaml:"timeoutSec"`
		IntervalMin     int `yaml:"intervalMin"`
		InitialDelayMin int `yaml:"initialDelayMin"`
	} `yaml:"subscription"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "requestx.sqlite3"
	c.Sqlite.Prefix = "requestx_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "requestx.log"
	c.Log.MaxSizeMB = 10
	c.Log.MaxBackups = 3
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.DevTools.ProcessTimeoutMS = 5000
	c.Metrics.Addr = ":9464"
	c.Sync.ReloadDelayMS = 500
	c.Cookie.FlushDelayMS = 100
	c.Subscription.TimeoutSec = 10
	c.Subscription.IntervalMin = 120
	c.Subscription.InitialDelayMin = 1
	return c
}

// Load 在默认配置之上加载 YAML 文件，path 为空时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// ReloadDelay 规则同步的防抖延迟
func (c *Config) ReloadDelay() time.Duration {
	return time.Duration(c.Sync.ReloadDelayMS) * time.Millisecond
}

// FlushDelay Cookie 回写的防抖延迟
func (c *Config) FlushDelay() time.Duration {
	return time.Duration(c.Cookie.FlushDelayMS) * time.Millisecond
}

// ProcessTimeout 单个拦截事件的处理超时
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.DevTools.ProcessTimeoutMS) * time.Millisecond
}

// SubscriptionTimeout 订阅拉取超时
func (c *Config) SubscriptionTimeout() time.Duration {
	return time.Duration(c.Subscription.TimeoutSec) * time.Second
}

// SubscriptionInterval 订阅刷新间隔
func (c *Config) SubscriptionInterval() time.Duration {
	return time.Duration(c.Subscription.IntervalMin) * time.Minute
}

// SubscriptionDelay 首次订阅刷新前的等待
func (c *Config) SubscriptionDelay() time.Duration {
	return time.Duration(c.Subscription.InitialDelayMin) * time.Minute
}
