package config

import (
	"os"
	"strconv"
)

type Config struct {
	Host         string
	Port         int
	MainChatName string
	BatchSize    int    // max messages per poll, also the connect snapshot size
	DBPath       string // empty disables the snapshot store
	ReadTimeout  int    // seconds
	WriteTimeout int    // seconds
	MaxBodySize  int    // bytes
}

func Load() *Config {
	cfg := &Config{
		Host:         "127.0.0.1",
		Port:         8000,
		MainChatName: "main",
		BatchSize:    20,
		DBPath:       "",
		ReadTimeout:  120,
		WriteTimeout: 30,
		MaxBodySize:  64 * 1024,
	}

	if host := os.Getenv("POLLCHAT_HOST"); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv("POLLCHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if name := os.Getenv("POLLCHAT_MAIN_CHAT"); name != "" {
		cfg.MainChatName = name
	}

	if sizeStr := os.Getenv("POLLCHAT_BATCH_SIZE"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			cfg.BatchSize = size
		}
	}

	if dbPath := os.Getenv("POLLCHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("POLLCHAT_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("POLLCHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if sizeStr := os.Getenv("POLLCHAT_MAX_BODY"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			cfg.MaxBodySize = size
		}
	}

	return cfg
}
