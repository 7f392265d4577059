package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var defaultValues = map[string]interface{}{
	// Run session
	"RUNLOG_TOKEN":     "",                      // Credential token for the dashboard service
	"RUNLOG_DISABLE":   false,                   // Skip all transmission when set
	"RUNLOG_FORCE":     false,                   // Log even when RUNLOG_DISABLE is set
	"RUNLOG_PROJECT":   "",                      // Project identifier, workspace/project
	"RUNLOG_NAME":      "",                      // Run name inside the project
	"RUNLOG_ENDPOINT":  "http://localhost:8090", // Dashboard service base URL
	"RUNLOG_SEPARATOR": "_",                     // Compound key separator

	// Logging
	"RUNLOG_LOG_LEVEL": "info",
	"RUNLOG_DEBUG":     false,

	// Local sinks
	"RUNLOG_SAMPLE_RATE":           60,       // Seconds between system metric samples, 0 disables
	"RUNLOG_ROLLING_SIZE":          10,       // Samples in the rolling average per key
	"RUNLOG_PERSISTENCE_ENABLED":   false,    // Enable the storage sink
	"RUNLOG_DB_DRIVER":             "sqlite", // sqlite, postgres or memory
	"RUNLOG_DB_PATH":               "/tmp/runlog.db",
	"RUNLOG_DB_URL":                "",       // Postgres DSN
	"RUNLOG_FLUSH_INTERVAL":        "10s",    // How often queued points are written
	"RUNLOG_BATCH_SIZE":            100,      // Points queued before a forced write
	"RUNLOG_BACKUP_ENABLED":        false,
	"RUNLOG_BACKUP_DIR":            "./backups",
	"RUNLOG_BACKUP_RETENTION_DAYS": 30,

	// Telemetry sinks
	"RUNLOG_PROMETHEUS_ENABLED": false,
	"RUNLOG_OTLP_ENDPOINT":      "", // host:port of an OTLP/HTTP collector
	"RUNLOG_AMQP_URL":           "",
	"RUNLOG_AMQP_EXCHANGE":      "runlog.metrics",
}

var (
	once sync.Once
	v    *viper.Viper
)

func store() *viper.Viper {
	once.Do(func() {
		v = viper.New()
		for key, value := range defaultValues {
			v.SetDefault(key, value)
		}
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		// optional file, env still wins
		v.SetConfigName("runlog")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig()
	})
	return v
}

// ReadFile merges a config file over the defaults. Environment variables
// keep precedence over file values.
func ReadFile(path string) error {
	s := store()
	s.SetConfigFile(path)
	return s.MergeInConfig()
}

// Set overrides a value for the life of the process, used by CLI flags.
func Set(key string, value interface{}) {
	store().Set(key, value)
}

// lookup returns the env, file or Set value for key, else its default.
// Unknown keys are not looked up at all.
func lookup(key string) (interface{}, interface{}, bool) {
	defaultValue, ok := defaultValues[key]
	if !ok {
		return nil, nil, false
	}
	raw := store().Get(key)
	if raw == nil {
		raw = defaultValue
	}
	return raw, defaultValue, true
}

func StringValue(key string) string {
	if raw, _, ok := lookup(key); ok {
		if s, isString := raw.(string); isString {
			return s
		}
		return fmt.Sprint(raw)
	}
	return ""
}

// IntValue gets an int value from the env or default. Values that do not
// parse as an int fall back to the default.
func IntValue(key string) int {

	if raw, defaultValue, ok := lookup(key); ok {
		fallback, _ := defaultValue.(int)
		return intOr(raw, fallback)
	}
	return 0
}

// BoolValue gets a bool value from the env or default
func BoolValue(key string) bool {

	if raw, defaultValue, ok := lookup(key); ok {
		fallback, _ := defaultValue.(bool)
		return boolOr(raw, fallback)
	}
	return false
}

// DurationValue parses a duration string such as "10s", falling back to the
// default on a bad value.
func DurationValue(key string) time.Duration {
	if raw, defaultValue, ok := lookup(key); ok {
		if d, isDuration := raw.(time.Duration); isDuration {
			return d
		}
		d, err := time.ParseDuration(fmt.Sprint(raw))
		if err != nil {
			d, _ = time.ParseDuration(fmt.Sprint(defaultValue))
		}
		return d
	}
	return 0
}

func intOr(raw interface{}, fallback int) int {
	switch val := raw.(type) {
	case int:
		return val
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fallback
		}
		return n
	}
	return fallback
}

func boolOr(raw interface{}, fallback bool) bool {
	switch val := raw.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}
