package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server      Server  `mapstructure:"server"`
	Storage     Storage `mapstructure:"storage"`
	Upload      Upload  `mapstructure:"upload"`
	Caption     Caption `mapstructure:"caption"`
	OpenAI      OpenAI  `mapstructure:"openai"`
	Gemini      Gemini  `mapstructure:"gemini"`
	Ollama      Ollama  `mapstructure:"ollama"`
	Minio       Minio   `mapstructure:"minio"`
	Log         Log     `mapstructure:"log"`
	Development bool    `mapstructure:"development"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Storage struct {
	UploadsDir string `mapstructure:"uploads_dir"`
	ResultsDir string `mapstructure:"results_dir"`
	ReportsDir string `mapstructure:"reports_dir"`
	DBPath     string `mapstructure:"db_path"`
}

type Upload struct {
	MaxFileSize      int64 `mapstructure:"max_file_size"`
	MaxFilesMultiple int   `mapstructure:"max_files_multiple"`
	MaxFilesFolder   int   `mapstructure:"max_files_folder"`
}

type Caption struct {
	Provider       string  `mapstructure:"provider"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	BatchChunkSize int     `mapstructure:"batch_chunk_size"`
	MaxImageEdge   int     `mapstructure:"max_image_edge"`
	Temperature    float64 `mapstructure:"temperature"`
}

type OpenAI struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type Gemini struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type Ollama struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

type Minio struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	Secure    bool          `mapstructure:"secure"`
	Expiry    time.Duration `mapstructure:"expiry"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command line flags onto config keys
var flagKeys = map[string]string{
	"port":        "server.port",
	"uploads-dir": "storage.uploads_dir",
	"results-dir": "storage.results_dir",
	"reports-dir": "storage.reports_dir",
	"db":          "storage.db_path",
	"provider":    "caption.provider",
	"model":       "caption.model",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"development": "development",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8888")
	v.SetDefault("storage.uploads_dir", "uploads")
	v.SetDefault("storage.results_dir", "results")
	v.SetDefault("storage.reports_dir", "reports")
	v.SetDefault("storage.db_path", "data/captioner.db")
	v.SetDefault("upload.max_file_size", 10<<20)
	v.SetDefault("upload.max_files_multiple", 100)
	v.SetDefault("upload.max_files_folder", 500)
	v.SetDefault("caption.provider", "openai")
	v.SetDefault("caption.model", "")
	v.SetDefault("caption.max_tokens", 300)
	v.SetDefault("caption.chunk_size", 5)
	v.SetDefault("caption.batch_chunk_size", 3)
	v.SetDefault("caption.max_image_edge", 2048)
	v.SetDefault("caption.temperature", 0.2)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "llava")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.secure", true)
	v.SetDefault("minio.expiry", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("development", false)
}

// Load resolves configuration from defaults, an optional YAML file,
// CAPTIONER_* environment variables and any changed flags, in increasing priority
func Load(filename string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("captioner")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// conventional names used by the provider SDKs
	_ = v.BindEnv("openai.api_key", "CAPTIONER_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gemini.api_key", "CAPTIONER_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("ollama.url", "CAPTIONER_OLLAMA_URL", "OLLAMA_URL")

	if filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}
	if c.Caption.ChunkSize <= 0 || c.Caption.BatchChunkSize <= 0 {
		return fmt.Errorf("caption chunk sizes must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log.format %q (expected text or json)", c.Log.Format)
	}
	return nil
}
