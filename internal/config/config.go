package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Dev struct {
		Mode bool `yaml:"mode"`
	} `yaml:"dev"`
	LLM struct {
		BaseURL          string        `yaml:"base_url"`
		APIKey           string        `yaml:"api_key"`
		Model            string        `yaml:"model"`
		MaxTokens        int           `yaml:"max_tokens"`
		Temperature      float64       `yaml:"temperature"`
		TopP             float64       `yaml:"top_p"`
		PresencePenalty  float64       `yaml:"presence_penalty"`
		FrequencyPenalty float64       `yaml:"frequency_penalty"`
		Stop             []string      `yaml:"stop"`
		Timeout          time.Duration `yaml:"timeout"`
		MaxAttempts      int           `yaml:"max_attempts"`
		BaseDelay        time.Duration `yaml:"base_delay"`
	} `yaml:"llm"`
	Storage struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Compress  bool   `yaml:"compress"`
	} `yaml:"s3"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Security struct {
		APIKey          string `yaml:"api_key"`
		TokenSigningKey string `yaml:"token_signing_key"`
		Issuer          string `yaml:"issuer"`
		Audience        string `yaml:"audience"`
	} `yaml:"security"`
	Policy struct {
		Path   string `yaml:"path"`
		Redact bool   `yaml:"redact"`
	} `yaml:"policy"`
	RateLimit struct {
		RPM int `yaml:"rpm"`
	} `yaml:"rate_limit"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.Dev.Mode = true
	cfg.LLM.BaseURL = "http://localhost:1234/v1"
	cfg.LLM.Model = "llama-3.2-1b-instruct"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.TopP = 0.95
	cfg.LLM.Timeout = 60 * time.Second
	cfg.LLM.MaxAttempts = 3
	cfg.LLM.BaseDelay = time.Second
	cfg.Storage.Backend = "memory"
	cfg.S3.Region = "us-east-1"
	cfg.Policy.Redact = true
	cfg.RateLimit.RPM = 30
	cfg.Log.Level = "info"
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errors.New("missing llm.base_url (or KF_LLM_BASE_URL)")
	}
	switch c.Storage.Backend {
	case "memory", "none":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("storage backend postgres requires database.dsn (or KF_DB_DSN)")
		}
	case "s3":
		var missing []string
		if c.S3.Endpoint == "" {
			missing = append(missing, "endpoint")
		}
		if c.S3.AccessKey == "" {
			missing = append(missing, "access_key")
		}
		if c.S3.SecretKey == "" {
			missing = append(missing, "secret_key")
		}
		if c.S3.Bucket == "" {
			missing = append(missing, "bucket")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required s3 configuration: %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Redis.URL != "" && !c.SharedStorage() {
		return fmt.Errorf("redis archive queue requires storage backend postgres or s3, got %q", c.Storage.Backend)
	}
	return nil
}

// SharedStorage reports whether records saved by the worker are readable by
// the API process.
func (c Config) SharedStorage() bool {
	return c.Storage.Backend == "postgres" || c.Storage.Backend == "s3"
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KF_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("KF_DEV_MODE"); v != "" {
		cfg.Dev.Mode = parseBool(v, cfg.Dev.Mode)
	}
	if v := os.Getenv("KF_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("KF_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("KF_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KF_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("KF_LLM_TEMPERATURE"); v != "" {
		cfg.LLM.Temperature = parseFloat(v, cfg.LLM.Temperature)
	}
	if v := os.Getenv("KF_LLM_TOP_P"); v != "" {
		cfg.LLM.TopP = parseFloat(v, cfg.LLM.TopP)
	}
	if v := os.Getenv("KF_LLM_PRESENCE_PENALTY"); v != "" {
		cfg.LLM.PresencePenalty = parseFloat(v, cfg.LLM.PresencePenalty)
	}
	if v := os.Getenv("KF_LLM_FREQUENCY_PENALTY"); v != "" {
		cfg.LLM.FrequencyPenalty = parseFloat(v, cfg.LLM.FrequencyPenalty)
	}
	if v := os.Getenv("KF_LLM_STOP"); v != "" {
		cfg.LLM.Stop = splitCSV(v)
	}
	if v := os.Getenv("KF_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("KF_LLM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxAttempts = n
		}
	}
	if v := os.Getenv("KF_LLM_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.BaseDelay = d
		}
	}
	if v := os.Getenv("KF_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("KF_S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("KF_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("KF_S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("KF_S3_ACCESS_KEY"); v != "" {
		cfg.S3.AccessKey = v
	}
	if v := os.Getenv("KF_S3_SECRET_KEY"); v != "" {
		cfg.S3.SecretKey = v
	}
	if v := os.Getenv("KF_S3_COMPRESS"); v != "" {
		cfg.S3.Compress = parseBool(v, cfg.S3.Compress)
	}
	if v := os.Getenv("KF_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("KF_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("KF_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
	if v := os.Getenv("KF_TOKEN_SIGNING_KEY"); v != "" {
		cfg.Security.TokenSigningKey = v
	}
	if v := os.Getenv("KF_AUTH_ISSUER"); v != "" {
		cfg.Security.Issuer = v
	}
	if v := os.Getenv("KF_AUTH_AUDIENCE"); v != "" {
		cfg.Security.Audience = v
	}
	if v := os.Getenv("KF_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("KF_POLICY_REDACT"); v != "" {
		cfg.Policy.Redact = parseBool(v, cfg.Policy.Redact)
	}
	if v := os.Getenv("KF_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RPM = n
		}
	}
	if v := os.Getenv("KF_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseFloat(input string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
