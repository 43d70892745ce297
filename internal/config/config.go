package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	LogLevel  string
	LogFile   string
	LogFormat string

	DBPath          string
	ObjectPath      string
	ObjectBaseURL   string
	ObjectNamespace string

	RecordFirst string
	RecordLast  string
	RecordBorn  int

	PushURL          string
	PushTitle        string
	DevicePushToken  string
	DeviceGrants     string
	DenyPermanent    string
	LocationLegacy   bool
	ForegroundWindow time.Duration
}

func Load() *Config {
	return &Config{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		DBPath:           getEnv("DB_PATH", "capturesync.db"),
		ObjectPath:       getEnv("OBJECT_LOCAL_PATH", "objects"),
		ObjectBaseURL:    getEnv("OBJECT_BASE_URL", ""),
		ObjectNamespace:  getEnv("OBJECT_NAMESPACE", "test-app"),
		RecordFirst:      getEnv("RECORD_FIRST", "Beverly"),
		RecordLast:       getEnv("RECORD_LAST", "Vladislav Tan"),
		RecordBorn:       getEnvInt("RECORD_BORN", 2005),
		PushURL:          getEnv("PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		PushTitle:        getEnv("PUSH_TITLE", "Record saved"),
		DevicePushToken:  getEnv("DEVICE_PUSH_TOKEN", ""),
		DeviceGrants:     getEnv("DEVICE_GRANTS", "camera,location"),
		DenyPermanent:    getEnv("DEVICE_DENY_PERMANENT", ""),
		LocationLegacy:   os.Getenv("LOCATION_LEGACY") == "1",
		ForegroundWindow: getEnvDuration("FOREGROUND_WINDOW", 0),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
