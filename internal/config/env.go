package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables that override file settings.
const (
	EnvS3AccessKey    = "LAKESIM_S3_ACCESS_KEY"
	EnvS3SecretKey    = "LAKESIM_S3_SECRET_KEY"
	EnvMinIOAccessKey = "LAKESIM_MINIO_ACCESS_KEY"
	EnvMinIOSecretKey = "LAKESIM_MINIO_SECRET_KEY"
	EnvSlackWebhook   = "LAKESIM_SLACK_WEBHOOK"
	EnvDatabase       = "LAKESIM_DATABASE"
	EnvWebPort        = "LAKESIM_WEB_PORT"
)

func envString(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

func applyEnv(cfg *Config) error {
	cfg.Storage.S3AccessKey = envString(EnvS3AccessKey, cfg.Storage.S3AccessKey)
	cfg.Storage.S3SecretKey = envString(EnvS3SecretKey, cfg.Storage.S3SecretKey)
	cfg.Storage.MinIOAccessKey = envString(EnvMinIOAccessKey, cfg.Storage.MinIOAccessKey)
	cfg.Storage.MinIOSecretKey = envString(EnvMinIOSecretKey, cfg.Storage.MinIOSecretKey)
	cfg.Notifications.SlackWebhook = envString(EnvSlackWebhook, cfg.Notifications.SlackWebhook)
	cfg.General.DatabasePath = envString(EnvDatabase, cfg.General.DatabasePath)

	port, err := envInt(EnvWebPort, cfg.Web.Port)
	if err != nil {
		return err
	}
	cfg.Web.Port = port
	return nil
}
