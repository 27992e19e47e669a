package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type TinytxConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir      string `mapstructure:"workdir"`
		Database     string `mapstructure:"database"`
		PoolCapacity int    `mapstructure:"pool_capacity"`
	} `mapstructure:"storage"`
}

func LoadConfig(path string) (*TinytxConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.database", "tinytx")
	v.SetDefault("storage.pool_capacity", 0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg TinytxConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
