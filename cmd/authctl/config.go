package main

import (
	"fmt"
	"os"
	"regexp"

	authclient "github.com/goliatone/go-auth-client"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Client  authclient.Config `yaml:"client"`
	Storage StorageConfig     `yaml:"storage"`
	Logging LoggingConfig     `yaml:"logging"`
}

type StorageConfig struct {
	// Path of the sqlite database holding the token. Empty keeps the token
	// in memory for the lifetime of the command.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Client:  authclient.DefaultConfig(),
		Storage: StorageConfig{Path: "authctl.db"},
		Logging: LoggingConfig{Level: "info", Pretty: true},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*fileConfig, error) {
	cfg := defaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, cfg.Client.Validate()
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Client.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, unset
// variables expand to an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}
