package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeout    time.Duration

	// Consecutive failed source reads before passes fail fast, and for how long.
	MongoBreakerFailures uint32
	MongoBreakerTimeout  time.Duration

	CourseDir string
	CourseID  int64

	// SyncConcurrency caps record pipelines in flight; 0 sizes it to the
	// relational pool.
	SyncConcurrency int

	AdminUser      string
	AdminPassHash  string // bcrypt
	ViewerUser     string
	ViewerPassHash string // bcrypt; empty disables the viewer login
	AuthHMACSecret string

	CORSOrigins []string

	LogLevel       string
	LogDevelopment bool
	MetricsPrefix  string
}

// DevHMACSecret is the signing key used when AUTH_HMAC_SECRET is unset. It is
// only accepted with LOG_DEVELOPMENT=true.
const DevHMACSecret = "supersecret-dev-key"

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "pl")
	v.SetDefault("mongo_collection", "testInstances")
	v.SetDefault("mongo_timeout", "10s")
	v.SetDefault("mongo_breaker_failures", 3)
	v.SetDefault("mongo_breaker_timeout", "30s")
	v.SetDefault("course_dir", "./course")
	v.SetDefault("course_id", 1)
	v.SetDefault("sync_concurrency", 0)
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass_hash", "")
	v.SetDefault("viewer_user", "viewer")
	v.SetDefault("viewer_pass_hash", "")
	v.SetDefault("auth_hmac_secret", DevHMACSecret)
	v.SetDefault("cors_origins", "http://localhost:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
	v.SetDefault("metrics_prefix", "testsync")
}

// Load reads configuration from the environment (DB_DRIVER, MONGO_URI, ...)
// and, when CONFIG_FILE is set, from that file. Environment wins.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if f := v.GetString("config_file"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", f, err)
		}
	}

	cfg := Config{
		HTTPAddr:        v.GetString("http_addr"),
		DBDriver:        v.GetString("db_driver"),
		DBDSN:           v.GetString("db_dsn"),
		MongoURI:        v.GetString("mongo_uri"),
		MongoDatabase:   v.GetString("mongo_database"),
		MongoCollection: v.GetString("mongo_collection"),
		MongoTimeout:    v.GetDuration("mongo_timeout"),
		CourseDir:       v.GetString("course_dir"),
		CourseID:        v.GetInt64("course_id"),
		SyncConcurrency: v.GetInt("sync_concurrency"),
		AdminUser:       v.GetString("admin_user"),
		AdminPassHash:   v.GetString("admin_pass_hash"),
		ViewerUser:      v.GetString("viewer_user"),
		ViewerPassHash:  v.GetString("viewer_pass_hash"),
		AuthHMACSecret:  v.GetString("auth_hmac_secret"),
		CORSOrigins:     csv(v.GetString("cors_origins")),
		LogLevel:        v.GetString("log_level"),
		LogDevelopment:  v.GetBool("log_development"),
		MetricsPrefix:   v.GetString("metrics_prefix"),

		MongoBreakerFailures: v.GetUint32("mongo_breaker_failures"),
		MongoBreakerTimeout:  v.GetDuration("mongo_breaker_timeout"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.CourseID <= 0 {
		errs = append(errs, errors.New("COURSE_ID must be positive"))
	}
	if c.SyncConcurrency < 0 {
		errs = append(errs, errors.New("SYNC_CONCURRENCY must not be negative"))
	}
	if !c.LogDevelopment && (c.AuthHMACSecret == "" || c.AuthHMACSecret == DevHMACSecret) {
		errs = append(errs, errors.New("AUTH_HMAC_SECRET must be set outside development"))
	}
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	return errors.Join(errs...)
}

func csv(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
