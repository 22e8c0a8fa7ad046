package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"trc20-custody-go/internal/models"
)

type tokenFile struct {
	Token struct {
		Symbol   string `yaml:"symbol"`
		Contract string `yaml:"contract"`
		Decimals int    `yaml:"decimals"`
	} `yaml:"token"`
}

// LoadTokenFile reads token parameters from a YAML file. Values present
// in the file override environment defaults.
func LoadTokenFile(path string) (*models.TokenConfig, error) {
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var tf tokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	if tf.Token.Decimals < 0 {
		return nil, fmt.Errorf("token decimals must not be negative in %s", path)
	}

	return &models.TokenConfig{
		ContractAddress: tf.Token.Contract,
		Decimals:        tf.Token.Decimals,
		File:            path,
	}, nil
}
