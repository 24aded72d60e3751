package config

import (
	"encoding/json"
	"fmt"
	"os"

	"ashare-quote-core/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 未知的配置项会导致加载失败，避免打错字的配置被静默忽略。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("配置文件 %s 解析失败: %w", path, err)
	}

	// 行情源token允许从环境变量注入，避免写进配置文件
	if token := os.Getenv("SOURCE_TOKEN"); token != "" {
		config.Source.Token = token
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
