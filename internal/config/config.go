package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 为环境变量覆盖的前缀，例如 QUORUM_EXCHANGE_API_KEY。
const EnvPrefix = "QUORUM"

// 敏感字段通常只放在环境变量或 .env 中。
var envKeys = []string{
	"app.log_level",
	"exchange.api_key",
	"exchange.api_secret",
	"exchange.base_url",
	"exchange.dry_run",
	"notify.telegram.bot_token",
	"notify.telegram.chat_id",
	"notify.slack.webhook_url",
	"store.path",
}

// Load 读取配置文件（含 include 链），叠加环境变量后补默认值并校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s failed: %w", key, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), "", setKeys)
	cfg.AI.expandSecrets()
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandSecrets 允许 api_key 写成 ${OPENAI_API_KEY} 形式。
func (a *AIConfig) expandSecrets() {
	for name, p := range a.Presets {
		p.APIKey = os.ExpandEnv(p.APIKey)
		a.Presets[name] = p
	}
	for i := range a.Providers {
		a.Providers[i].APIKey = os.ExpandEnv(a.Providers[i].APIKey)
	}
}
