package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
	"liuproxy_rotator/internal/shared/types"
)

// LoadIni 在默认配置之上加载 rotator.ini，并应用环境变量覆盖。
// 文件不存在时直接使用默认值。
func LoadIni(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	if _, err := os.Stat(fileName); err == nil {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return nil, fmt.Errorf("failed to map config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	overrideFromEnvInt(&cfg.PoolConf.PoolSize, "ROTATOR_POOL_SIZE")
	overrideFromEnvInt(&cfg.WebConf.WebPort, "ROTATOR_WEB_PORT")
	overrideFromEnvString(&cfg.LogConf.Level, "ROTATOR_LOG_LEVEL")

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 拒绝无法构造代理池的配置。
func Validate(cfg *types.Config) error {
	if cfg.PoolConf.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", cfg.PoolConf.PoolSize)
	}
	if cfg.PoolConf.ValidateWorkers <= 0 {
		return fmt.Errorf("validate_workers must be positive, got %d", cfg.PoolConf.ValidateWorkers)
	}
	if cfg.PoolConf.IPCheckURL == "" {
		return fmt.Errorf("ip_check_url must not be empty")
	}
	if len(cfg.PoolConf.Sources()) == 0 {
		return fmt.Errorf("proxy_list_sources must name at least one source")
	}
	return nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
