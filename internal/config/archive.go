// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArchiveConfig representa a configuração YAML do `npipe log <path> archive`.
type ArchiveConfig struct {
	Schedule string       `yaml:"schedule"` // cron expression das passadas
	S3       S3Info       `yaml:"s3"`
	Compress CompressInfo `yaml:"compress"`
	Logging  LoggingInfo  `yaml:"logging"`
}

// S3Info contém o destino S3 dos segmentos selados.
type S3Info struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`   // opcional, para S3-compatíveis (MinIO etc)
	AccessKey string `yaml:"access_key"` // opcional — vazio usa a credential chain default
	SecretKey string `yaml:"secret_key"`
}

// CompressInfo contém as opções de compressão dos archives.
type CompressInfo struct {
	Level int `yaml:"level"` // 1 (speed) a 9 (best); default 1
}

// LoadArchiveConfig lê e valida o arquivo YAML de configuração do archiver.
func LoadArchiveConfig(path string) (*ArchiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive config: %w", err)
	}

	var cfg ArchiveConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing archive config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating archive config: %w", err)
	}

	return &cfg, nil
}

func (c *ArchiveConfig) validate() error {
	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("s3.access_key and s3.secret_key must be set together")
	}
	if c.Compress.Level == 0 {
		c.Compress.Level = 1
	}
	if c.Compress.Level < 1 || c.Compress.Level > 9 {
		return fmt.Errorf("compress.level must be between 1 and 9, got %d", c.Compress.Level)
	}
	c.Logging.applyDefaults()
	return nil
}
