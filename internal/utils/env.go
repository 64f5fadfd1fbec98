package utils

import (
	"os"
	"strconv"

	"github.com/reelworks/sportsreel-backend/internal/logger"
)

func GetEnv(key, defaultVal string, log *logger.Logger) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	if log != nil {
		log.Debug("Env var unset, using default", "env_var", key, "default", defaultVal)
	}
	return defaultVal
}

func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("Env var unset, using default", "env_var", key, "default", defaultVal)
		}
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		if log != nil {
			log.Warn("Env var is not an integer, using default", "env_var", key, "value", raw, "default", defaultVal)
		}
		return defaultVal
	}
	return val
}
