// Package config loads the daemon configuration from a JSON or YAML file,
// fills defaults and applies the environment overrides shared by every
// agent process (RABBITMQ_URL, REDIS_ADDR, MYSQL_DSN, LOG_LEVEL, SERVICE_NAME).
package config
