package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Worker struct {
		ID              string `yaml:"id" env:"WORKER_ID" env-default:"worker-UNKNOWN"`
		Token           string `yaml:"token" env:"TOKEN"`
		RegIncludeToken bool   `yaml:"reg_include_token" env:"REG_INCLUDE_TOKEN" env-default:"false"`
		DeviceModel     string `yaml:"device_model" env:"DEVICE_MODEL"`
		BaseDir         string `yaml:"base_dir" env:"BASE_DIR" env-default:"/sdcard/worker"`
	} `yaml:"worker"`

	Server struct {
		WS               string        `yaml:"ws" env:"SERVER_WS"`
		API              string        `yaml:"api" env:"SERVER_API"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT" env-default:"30s"`
		PingInterval     time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL" env-default:"20s"`
		PongWait         time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT" env-default:"60s"`
	} `yaml:"server"`

	Model struct {
		Path         string `yaml:"path" env:"MODEL_PATH" env-default:"/sdcard/worker/models/ggml-large-v3-q5_k.bin"`
		FallbackPath string `yaml:"fallback_path" env:"MODEL_PATH_FALLBACK"`
		LangHint     string `yaml:"lang_hint" env:"LANG_HINT" env-default:"ru"`
		Threads      int    `yaml:"threads" env:"THREADS" env-default:"8"`
	} `yaml:"model"`

	Whisper struct {
		Bin      string        `yaml:"bin" env:"WHISPER_BIN"`
		Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"2h"`
		GPUDetect bool          `yaml:"gpu_detect" env:"GPU_DETECT" env-default:"true"`
	} `yaml:"whisper"`

	Heartbeat struct {
		Interval  time.Duration `yaml:"interval" env:"HEARTBEAT_INTERVAL" env-default:"20s"`
		OnReady   bool          `yaml:"on_ready" env:"HEARTBEAT_ON_READY" env-default:"true"`
		CPUSample time.Duration `yaml:"cpu_sample" env:"CPU_SAMPLE" env-default:"600ms"`
	} `yaml:"heartbeat"`

	Thermal struct {
		HighC       float64 `yaml:"high_c" env:"THERMAL_HIGH_C" env-default:"75"`
		MidC        float64 `yaml:"mid_c" env:"THERMAL_MID_C" env-default:"68"`
		LowC        float64 `yaml:"low_c" env:"THERMAL_LOW_C" env-default:"60"`
		HighThreads int     `yaml:"high_threads" env:"THERMAL_HIGH_THREADS" env-default:"4"`
		MidThreads  int     `yaml:"mid_threads" env:"THERMAL_MID_THREADS" env-default:"6"`
	} `yaml:"thermal"`

	Cache struct {
		Dir   string `yaml:"dir" env:"CACHE_DIR"`
		MaxMB int64  `yaml:"max_mb" env:"MAX_CACHE_MB" env-default:"2048"`
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL" env-default:"INFO"`
		Dir   string `yaml:"dir" env:"LOG_DIR"`
	} `yaml:"log"`

	Transcript struct {
		MaxTextLen  int      `yaml:"max_text_len" env:"MAX_TEXT_LEN" env-default:"200000"`
		MergeGapS   float64  `yaml:"merge_gap_s" env:"SEG_MERGE_GAP_S" env-default:"0.6"`
		MinWAVBytes int64    `yaml:"min_wav_bytes" env:"MIN_WAV_BYTES" env-default:"1000"`
		NoiseTokens []string `yaml:"noise_tokens" env:"NOISE_TOKENS" env-separator:"|"`
	} `yaml:"transcript"`

	Publish struct {
		GzipThreshold int           `yaml:"gzip_threshold" env:"GZIP_THRESHOLD" env-default:"100000"`
		Timeout       time.Duration `yaml:"timeout" env:"PUBLISH_TIMEOUT" env-default:"180s"`
	} `yaml:"publish"`

	Download struct {
		Timeout time.Duration `yaml:"timeout" env:"DOWNLOAD_TIMEOUT" env-default:"300s"`
	} `yaml:"download"`

	YandexDisk struct {
		OAuthToken string `yaml:"oauth_token" env:"YADISK_OAUTH_TOKEN"`
		APIURL     string `yaml:"api_url" env:"YADISK_API_URL" env-default:"https://cloud-api.yandex.net/v1/disk"`
	} `yaml:"yandex_disk"`

	S3 struct {
		Enabled   bool   `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"ru-central1"`
	} `yaml:"s3"`
}

// LoadConfig reads .env, then the YAML file at path if it exists, then the
// environment. Missing file is not an error: the agent is usually configured
// through env only.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" && fileExists(path) {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerived() {
	if c.YandexDisk.OAuthToken == "" {
		c.YandexDisk.OAuthToken = os.Getenv("YANDEX_DISK_OAUTH")
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.Worker.BaseDir, "cache")
	}
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.Worker.BaseDir, "logs")
	}
	if len(c.Transcript.NoiseTokens) == 0 {
		c.Transcript.NoiseTokens = DefaultNoiseTokens()
	}
}

// Validate checks the fields the agent cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Worker.ID == "" {
		errs = append(errs, errors.New("WORKER_ID is required"))
	}
	if c.Server.WS == "" {
		errs = append(errs, errors.New("SERVER_WS is required"))
	}
	if c.Server.API == "" {
		errs = append(errs, errors.New("SERVER_API is required"))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("MODEL_PATH is required"))
	}
	if c.Model.Threads <= 0 {
		errs = append(errs, fmt.Errorf("THREADS must be positive, got %d", c.Model.Threads))
	}
	return errors.Join(errs...)
}

// WSURL returns the control channel URL with the token query parameter the
// coordinator expects. An explicit token in the URL is kept as is.
func (c *Config) WSURL() (string, error) {
	u, err := url.Parse(c.Server.WS)
	if err != nil {
		return "", fmt.Errorf("failed to parse SERVER_WS: %w", err)
	}
	if c.Worker.Token == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get("token") == "" {
		q.Set("token", c.Worker.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// S3Enabled reports whether s3:// inputs can be served. An endpoint or static
// keys imply it; S3_ENABLED covers AWS with the default credential chain.
func (c *Config) S3Enabled() bool {
	return c.S3.Enabled || c.S3.Endpoint != "" || c.S3.AccessKey != ""
}

// LogFile is the append-only agent log.
func (c *Config) LogFile() string {
	return filepath.Join(c.Log.Dir, "agent.log")
}

// DefaultNoiseTokens are whole-segment texts whisper emits for non-speech.
func DefaultNoiseTokens() []string {
	return []string{
		"аплодисменты", "[аплодисменты]", "(аплодисменты)",
		"(шум)", "[шум]",
		"(музыка)", "[музыка]",
		"applause",
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
