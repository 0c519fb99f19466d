package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed-duration bounds in seconds.
const (
	MinDurationSeconds = 1
	MaxDurationSeconds = 18000
)

// CameraConfig holds the capture settings for the single camera.
type CameraConfig struct {
	Device          string `yaml:"device"`           // V4L2 node, e.g. /dev/video0
	Width           int    `yaml:"width"`            // Frame width in pixels
	Height          int    `yaml:"height"`           // Frame height in pixels
	FrameRate       int    `yaml:"frame_rate"`       // Frames per second
	Quality         int    `yaml:"quality"`          // Encoder quality (lower is better, H.264 CRF-like)
	PreviewQuality  int    `yaml:"preview_quality"`  // MJPEG q:v for the live preview
	AnnotationLabel string `yaml:"annotation_label"` // First line of the on-frame overlay
	FileExtension   string `yaml:"file_extension"`   // Raw recording extension
	OpenAttempts    int    `yaml:"open_attempts"`    // Camera open retries
	OpenDelay       int    `yaml:"open_delay"`       // Seconds between open retries
}

// Resolution returns the configured size as "WxH".
func (c CameraConfig) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// Config contains all configuration for the application
type Config struct {
	Camera CameraConfig `yaml:"camera"`

	// Recording Configuration. DurationSeconds == 0 selects follow-schedule mode.
	DurationSeconds int    `yaml:"duration_seconds"`
	RecordingsDir   string `yaml:"recordings_dir"`
	MP4Wrap         bool   `yaml:"mp4_wrap"`

	// Witty Pi schedule configuration
	WittyPiDirs         []string `yaml:"wittypi_dirs"`
	SafetyMarginSeconds int      `yaml:"safety_margin_seconds"`
	GuardBandSeconds    int      `yaml:"guard_band_seconds"`
	CheckIntervalSecs   int      `yaml:"check_interval_seconds"`

	// Competing capture service (RPi Cam Web Interface)
	RPiCamStopScripts  []string `yaml:"rpicam_stop_scripts"`
	RPiCamProcessNames []string `yaml:"rpicam_process_names"`

	// Server Configuration
	WebPort string `yaml:"web_port"`

	// Database Configuration
	DatabasePath string `yaml:"database_path"`

	// Logging
	LogLevel    string `yaml:"log_level"`
	LogMaxLines int    `yaml:"log_max_lines"`

	// Cron
	MonitorSchedule   string `yaml:"monitor_schedule"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`

	// R2 Storage Configuration
	R2Enabled   bool   `yaml:"r2_enabled"`
	R2AccessKey string `yaml:"r2_access_key"`
	R2SecretKey string `yaml:"r2_secret_key"`
	R2AccountID string `yaml:"r2_account_id"`
	R2Bucket    string `yaml:"r2_bucket"`
	R2Region    string `yaml:"r2_region"`
	R2Endpoint  string `yaml:"r2_endpoint"`
	R2BaseURL   string `yaml:"r2_base_url"`
	R2Prefix    string `yaml:"r2_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/home/pi"
	}
	return Config{
		Camera: CameraConfig{
			Device:          "/dev/video0",
			Width:           1296,
			Height:          972,
			FrameRate:       15,
			Quality:         22,
			PreviewQuality:  8,
			AnnotationLabel: "PICT WittyPi Recorder",
			FileExtension:   ".h264",
			OpenAttempts:    4,
			OpenDelay:       2,
		},
		DurationSeconds: 0,
		RecordingsDir:   filepath.Join(home, "recordings"),
		MP4Wrap:         true,
		WittyPiDirs: []string{
			filepath.Join(home, "wittypi"),
			"/home/pi/wittypi",
			"/home/pi/WittyPi",
		},
		SafetyMarginSeconds: 60,
		GuardBandSeconds:    5,
		CheckIntervalSecs:   30,
		RPiCamStopScripts: []string{
			"/home/pi/RPi_Cam_Web_Interface/stop.sh",
			"/var/www/html/RPi_Cam_Web_Interface/stop.sh",
		},
		RPiCamProcessNames: []string{"raspimjpeg"},
		WebPort:            "8123",
		DatabasePath:       filepath.Join(home, "recordings", "recorder.db"),
		LogLevel:           "info",
		LogMaxLines:        1000,
		MonitorSchedule:    "0 */5 * * * *",
		ReconcileSchedule:  "0 */10 * * * *",
		R2Region:           "auto",
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by CONFIG_FILE, and finally environment variables.
func LoadConfig() (Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		fileCfg, err := LoadConfigFromFile(path, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfigFromFile overlays the YAML file at filePath onto base.
func LoadConfigFromFile(filePath string, base Config) (Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if res := getEnv("RESOLUTION", ""); res != "" {
		if w, h, ok := parseResolution(res); ok {
			cfg.Camera.Width, cfg.Camera.Height = w, h
		}
	}
	cfg.Camera.Device = getEnv("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.FrameRate = getEnvInt("FRAMERATE", cfg.Camera.FrameRate)
	cfg.Camera.Quality = getEnvInt("QUALITY", cfg.Camera.Quality)
	cfg.Camera.PreviewQuality = getEnvInt("PREVIEW_QUALITY", cfg.Camera.PreviewQuality)
	cfg.Camera.AnnotationLabel = getEnv("ANNOTATION_LABEL", cfg.Camera.AnnotationLabel)
	cfg.Camera.FileExtension = getEnv("FILE_EXTENSION", cfg.Camera.FileExtension)
	cfg.Camera.OpenAttempts = getEnvInt("CAMERA_OPEN_ATTEMPTS", cfg.Camera.OpenAttempts)
	cfg.Camera.OpenDelay = getEnvInt("CAMERA_OPEN_DELAY_SECONDS", cfg.Camera.OpenDelay)

	// An empty or out-of-range DURATION_SECONDS keeps follow-schedule mode.
	if v, ok := os.LookupEnv("DURATION_SECONDS"); ok {
		cfg.DurationSeconds = 0
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= MinDurationSeconds && n <= MaxDurationSeconds {
			cfg.DurationSeconds = n
		}
	}
	cfg.RecordingsDir = getEnv("RECORDINGS_DIR", cfg.RecordingsDir)
	cfg.MP4Wrap = getEnvBool("MP4_WRAP", cfg.MP4Wrap)

	cfg.WittyPiDirs = getEnvList("WITTYPI_DIRS", cfg.WittyPiDirs)
	cfg.SafetyMarginSeconds = getEnvInt("SAFETY_MARGIN_SECONDS", cfg.SafetyMarginSeconds)
	cfg.GuardBandSeconds = getEnvInt("GUARD_BAND_SECONDS", cfg.GuardBandSeconds)
	cfg.CheckIntervalSecs = getEnvInt("CHECK_INTERVAL_SECONDS", cfg.CheckIntervalSecs)

	cfg.RPiCamStopScripts = getEnvList("RPICAM_STOP_SCRIPTS", cfg.RPiCamStopScripts)
	cfg.RPiCamProcessNames = getEnvList("RPICAM_PROCESS_NAMES", cfg.RPiCamProcessNames)

	cfg.WebPort = getEnv("WEB_PORT", cfg.WebPort)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogMaxLines = getEnvInt("LOG_MAX_LINES", cfg.LogMaxLines)
	cfg.MonitorSchedule = getEnv("MONITOR_SCHEDULE", cfg.MonitorSchedule)
	cfg.ReconcileSchedule = getEnv("RECONCILE_SCHEDULE", cfg.ReconcileSchedule)

	cfg.R2Enabled = getEnvBool("R2_ENABLED", cfg.R2Enabled)
	cfg.R2AccessKey = getEnv("R2_ACCESS_KEY", cfg.R2AccessKey)
	cfg.R2SecretKey = getEnv("R2_SECRET_KEY", cfg.R2SecretKey)
	cfg.R2AccountID = getEnv("R2_ACCOUNT_ID", cfg.R2AccountID)
	cfg.R2Bucket = getEnv("R2_BUCKET", cfg.R2Bucket)
	cfg.R2Region = getEnv("R2_REGION", cfg.R2Region)
	cfg.R2Endpoint = getEnv("R2_ENDPOINT", cfg.R2Endpoint)
	cfg.R2BaseURL = getEnv("R2_BASE_URL", cfg.R2BaseURL)
	cfg.R2Prefix = getEnv("R2_PREFIX", cfg.R2Prefix)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid resolution %s", c.Camera.Resolution()))
	}
	if c.Camera.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("framerate must be positive, got %d", c.Camera.FrameRate))
	}
	if c.Camera.OpenAttempts < 1 {
		errs = append(errs, fmt.Errorf("camera open attempts must be >= 1, got %d", c.Camera.OpenAttempts))
	}
	if c.Camera.OpenDelay < 0 {
		errs = append(errs, fmt.Errorf("camera open delay must be >= 0, got %d", c.Camera.OpenDelay))
	}
	if c.DurationSeconds != 0 && (c.DurationSeconds < MinDurationSeconds || c.DurationSeconds > MaxDurationSeconds) {
		errs = append(errs, fmt.Errorf("duration_seconds must be in [%d, %d], got %d", MinDurationSeconds, MaxDurationSeconds, c.DurationSeconds))
	}
	if c.RecordingsDir == "" {
		errs = append(errs, errors.New("recordings_dir is required"))
	}
	if c.SafetyMarginSeconds < 0 {
		errs = append(errs, fmt.Errorf("safety margin must be >= 0, got %d", c.SafetyMarginSeconds))
	}
	if c.GuardBandSeconds < 0 {
		errs = append(errs, fmt.Errorf("guard band must be >= 0, got %d", c.GuardBandSeconds))
	}
	if c.CheckIntervalSecs < 1 {
		errs = append(errs, fmt.Errorf("check interval must be >= 1, got %d", c.CheckIntervalSecs))
	}
	if c.WebPort == "" {
		errs = append(errs, errors.New("web_port is required"))
	}
	if c.R2Enabled && (c.R2Bucket == "" || c.R2AccessKey == "" || c.R2SecretKey == "") {
		errs = append(errs, errors.New("r2 enabled but bucket or credentials missing"))
	}
	return errors.Join(errs...)
}

// FixedDurationMode reports whether the process auto-starts a single
// fixed-duration session instead of following the Witty Pi schedule.
func (c Config) FixedDurationMode() bool {
	return c.DurationSeconds >= MinDurationSeconds && c.DurationSeconds <= MaxDurationSeconds
}

// SafetyMargin, GuardBand, CheckInterval and OpenDelay as durations.
func (c Config) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

func (c Config) GuardBand() time.Duration {
	return time.Duration(c.GuardBandSeconds) * time.Second
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSecs) * time.Second
}

func (c CameraConfig) OpenDelayDuration() time.Duration {
	return time.Duration(c.OpenDelay) * time.Second
}

// ModeDescription is the human readable mode shown on the config page.
func (c Config) ModeDescription() string {
	if c.FixedDurationMode() {
		return fmt.Sprintf("Fixed duration %ds", c.DurationSeconds)
	}
	return "WittyPi (DURATION_SECONDS unset)"
}

// EnsurePaths creates necessary paths
func EnsurePaths(cfg Config) error {
	if err := os.MkdirAll(cfg.RecordingsDir, 0755); err != nil {
		return fmt.Errorf("create recordings dir %s: %w", cfg.RecordingsDir, err)
	}
	if cfg.DatabasePath != "" {
		dbDir := filepath.Dir(cfg.DatabasePath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create database dir %s: %w", dbDir, err)
		}
	}
	return nil
}

func parseResolution(s string) (int, int, bool) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
