// Package config loads the optional rclonebb.env settings file and
// assembles the immutable per-run configuration consumed by the
// pipeline. Flags always win over the settings file; settings win over
// compiled-in defaults. Environment variables override the file so that
// scheduler units can tweak a single knob without editing it.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cek/rclonebb/internal/types"
	"github.com/cek/rclonebb/pkg/utils"
)

// DefaultSettingsPath is where LoadSettings looks when no explicit
// settings file is requested.
const DefaultSettingsPath = "/etc/rclonebb/rclonebb.env"

// Keys that may appear multiple times and accumulate.
var multiValueKeys = map[string]bool{
	"AGE_RECIPIENT": true,
}

// Settings holds the raw values read from rclonebb.env plus typed
// accessors. It only provides defaults; the RunConfiguration is the
// authoritative input to a run.
type Settings struct {
	Path string

	raw map[string]string
}

// LoadSettings reads the settings file at path. An empty path means the
// default location; a missing default file yields empty settings, while
// a missing explicitly requested file is an error.
func LoadSettings(path string) (*Settings, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultSettingsPath
	}

	if !utils.FileExists(path) {
		if explicit {
			return nil, fmt.Errorf("settings file not found: %s", path)
		}
		s := &Settings{raw: make(map[string]string)}
		s.loadEnvOverrides()
		return s, nil
	}

	raw, err := parseEnvFile(path)
	if err != nil {
		return nil, err
	}

	s := &Settings{Path: path, raw: raw}
	s.loadEnvOverrides()
	return s, nil
}

// loadEnvOverrides lets environment variables take precedence over the
// settings file.
func (s *Settings) loadEnvOverrides() {
	envKeys := []string{
		"RCLONE_PATH", "RCLONE_CONFIG",
		"LOG_PATH", "MAX_LOG_FILES", "COMPRESS_LOG",
		"ENCRYPT_LOG", "AGE_RECIPIENT",
		"TRANSFERS", "MIN_AGE", "CLEANUP_PATH",
		"EMAIL_ENABLED", "EMAIL_RECIPIENT", "EMAIL_FROM",
		"EMAIL_DELIVERY_METHOD", "ATTACH_LOG",
		"RELAY_URL", "RELAY_TOKEN", "RELAY_HMAC_SECRET",
		"RELAY_TIMEOUT", "RELAY_MAX_RETRIES", "RELAY_RETRY_DELAY",
		"METRICS_PATH",
		"DEBUG_LEVEL", "USE_COLOR",
	}

	for _, key := range envKeys {
		if envValue := os.Getenv(key); envValue != "" {
			s.raw[key] = envValue
		}
	}
}

func (s *Settings) getString(key, defaultValue string) string {
	if val, ok := s.raw[key]; ok {
		return expandEnvVars(val)
	}
	return defaultValue
}

func (s *Settings) getBool(key string, defaultValue bool) bool {
	if val, ok := s.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (s *Settings) getInt(key string, defaultValue int) int {
	if val, ok := s.raw[key]; ok {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (s *Settings) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := s.raw[key]; ok {
		if intVal, err := strconv.Atoi(val); err == nil {
			return types.LogLevel(intVal)
		}
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "debug":
			return types.LogLevelDebug
		case "info":
			return types.LogLevelInfo
		case "warning":
			return types.LogLevelWarning
		case "error":
			return types.LogLevelError
		}
	}
	return defaultValue
}

func (s *Settings) getStringSlice(key string, defaultValue []string) []string {
	val, ok := s.raw[key]
	if !ok {
		return defaultValue
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return []string{}
	}

	parts := strings.FieldsFunc(val, func(r rune) bool {
		switch r {
		case ',', ';', '|', '\n':
			return true
		default:
			return false
		}
	})

	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			trimmed = strings.Trim(trimmed, `"'`)
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return []string{}
	}
	return result
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open settings file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if utils.IsComment(trimmed) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if multiValueKeys[key] {
			if existing, ok := raw[key]; ok && existing != "" {
				raw[key] = existing + "\n" + value
			} else {
				raw[key] = value
			}
		} else {
			raw[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading settings file: %w", err)
	}
	return raw, nil
}

// RunConfiguration is the immutable input to one run. It is assembled
// once by the CLI layer from flags plus settings and passed through the
// pipeline by reference; nothing mutates it after New returns.
type RunConfiguration struct {
	// Operation
	Mode         types.Mode
	LocalDir     string
	RemoteBucket string
	Transfers    int
	ExcludeFile  string
	MinAge       string
	DryRun       bool
	CleanupPath  string

	// External tool
	RclonePath   string
	RcloneConfig string

	// Log store
	LogDir        string
	MaxLogFiles   int
	CompressLog   bool
	EncryptLog    bool
	AgeRecipients []string

	// Notification
	EmailEnabled        bool
	EmailRecipient      string
	EmailFrom           string
	EmailDeliveryMethod string // "sendmail" or "relay"
	AttachLog           bool
	RelayURL            string
	RelayToken          string
	RelayHMACSecret     string
	RelayTimeout        int // seconds
	RelayMaxRetries     int
	RelayRetryDelay     int // seconds

	// Metrics
	MetricsPath string

	// Console
	DebugLevel types.LogLevel
	UseColor   bool
}

// NewRunConfiguration builds a configuration pre-populated with the
// compiled-in defaults overlaid by the settings file. The CLI layer
// then applies explicit flags on top.
func NewRunConfiguration(settings *Settings) *RunConfiguration {
	if settings == nil {
		settings = &Settings{raw: make(map[string]string)}
	}

	return &RunConfiguration{
		Transfers:           settings.getInt("TRANSFERS", 4),
		MinAge:              settings.getString("MIN_AGE", ""),
		CleanupPath:         settings.getString("CLEANUP_PATH", ""),
		RclonePath:          settings.getString("RCLONE_PATH", "rclone"),
		RcloneConfig:        settings.getString("RCLONE_CONFIG", ""),
		LogDir:              settings.getString("LOG_PATH", "/var/log/rclonebb"),
		MaxLogFiles:         settings.getInt("MAX_LOG_FILES", 10),
		CompressLog:         settings.getBool("COMPRESS_LOG", false),
		EncryptLog:          settings.getBool("ENCRYPT_LOG", false),
		AgeRecipients:       settings.getStringSlice("AGE_RECIPIENT", nil),
		EmailEnabled:        settings.getBool("EMAIL_ENABLED", true),
		EmailRecipient:      settings.getString("EMAIL_RECIPIENT", ""),
		EmailFrom:           settings.getString("EMAIL_FROM", ""),
		EmailDeliveryMethod: settings.getString("EMAIL_DELIVERY_METHOD", "sendmail"),
		AttachLog:           settings.getBool("ATTACH_LOG", true),
		RelayURL:            settings.getString("RELAY_URL", ""),
		RelayToken:          settings.getString("RELAY_TOKEN", ""),
		RelayHMACSecret:     settings.getString("RELAY_HMAC_SECRET", ""),
		RelayTimeout:        settings.getInt("RELAY_TIMEOUT", 30),
		RelayMaxRetries:     settings.getInt("RELAY_MAX_RETRIES", 3),
		RelayRetryDelay:     settings.getInt("RELAY_RETRY_DELAY", 5),
		MetricsPath:         settings.getString("METRICS_PATH", ""),
		DebugLevel:          settings.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo),
		UseColor:            settings.getBool("USE_COLOR", true),
	}
}

// Validate checks the assembled configuration before any subprocess
// runs. Every violation is a configuration error.
func (c *RunConfiguration) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}
	if c.LocalDir == "" {
		return fmt.Errorf("local directory is required")
	}
	if !utils.DirExists(c.LocalDir) {
		return fmt.Errorf("local directory not found: %s", c.LocalDir)
	}
	if c.RemoteBucket == "" {
		return fmt.Errorf("remote bucket is required")
	}
	if c.Transfers <= 0 {
		return fmt.Errorf("transfers must be positive, got %d", c.Transfers)
	}
	if c.LogDir == "" {
		return fmt.Errorf("log directory is required")
	}
	if c.ExcludeFile != "" && !utils.FileExists(c.ExcludeFile) {
		return fmt.Errorf("exclude file not found: %s", c.ExcludeFile)
	}
	if c.RcloneConfig != "" && !utils.FileExists(c.RcloneConfig) {
		return fmt.Errorf("rclone config file not found: %s", c.RcloneConfig)
	}
	if c.EncryptLog && len(c.AgeRecipients) == 0 {
		return fmt.Errorf("log encryption requires at least one AGE_RECIPIENT")
	}
	if c.DryRun && c.Mode != types.ModeSync {
		return fmt.Errorf("dry-run applies to sync only")
	}
	switch c.EmailDeliveryMethod {
	case "sendmail", "relay":
	default:
		return fmt.Errorf("unknown email delivery method %q", c.EmailDeliveryMethod)
	}
	if c.EmailDeliveryMethod == "relay" && c.EmailEnabled && c.RelayURL == "" {
		return fmt.Errorf("relay delivery requires RELAY_URL")
	}
	if c.EmailEnabled && c.EmailRecipient == "" {
		return fmt.Errorf("email is enabled but no recipient is configured")
	}
	return nil
}
