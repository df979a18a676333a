package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stevecastle/stereopair/platform"
)

// Aspect is the width:height ratio of the side-by-side output.
type Aspect struct {
	W int `json:"w"`
	H int `json:"h"`
}

// Depth configures the background disparity computation.
type Depth struct {
	// Width and Height are the size of the whole side-by-side work canvas;
	// each eye is matched at Width/2 x Height.
	Width          int `json:"width"`
	Height         int `json:"height"`
	NumDisparities int `json:"numDisparities"`
	BlockSize      int `json:"blockSize"`
	Divisor        int `json:"divisor"`
	// Workers bounds matcher goroutines; zero uses GOMAXPROCS.
	Workers int `json:"workers"`
}

// Config holds the composer's settings.
type Config struct {
	Addr   string `json:"addr"`
	DBPath string `json:"dbPath"`

	Aspect Aspect `json:"aspect"`
	// SaveScale multiplies Aspect for the output size (16:9 x 120 = 1920x1080).
	SaveScale int `json:"saveScale"`
	// ViewScale multiplies Aspect for each interactive view.
	ViewScale   int  `json:"viewScale"`
	PreviewEdge uint `json:"previewEdge"`
	JPEGQuality int  `json:"jpegQuality"`

	// ForceLinkedOnScale links both sides whenever scale mode is chosen.
	ForceLinkedOnScale bool `json:"forceLinkedOnScale"`

	ExportRunners int  `json:"exportRunners"`
	OpenBrowser   bool `json:"openBrowser"`

	Depth Depth `json:"depth"`

	// JWT Secret for session tokens
	JWTSecret string `json:"jwtSecret"`
	// PassphraseHash is a bcrypt hash. When empty only the token printed at
	// startup grants editing.
	PassphraseHash string `json:"passphraseHash"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default database path.
// Uses the platform-specific data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "stereopair.db")
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:8091",
		DBPath:        DefaultDBPath(),
		Aspect:        Aspect{W: 16, H: 9},
		SaveScale:     120,
		ViewScale:     50,
		PreviewEdge:   1024,
		JPEGQuality:   92,
		ExportRunners: 1,
		OpenBrowser:   true,
		Depth: Depth{
			Width:          320,
			Height:         180,
			NumDisparities: 32,
			BlockSize:      9,
			Divisor:        2,
		},
		JWTSecret: uuid.New().String(),
	}
}

// Default returns a fresh default config.
func Default() Config {
	return defaultConfig()
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// ConfigPath returns the full path to the default config.json file.
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the default config file, creating it with defaults if missing.
func Load() (Config, string, error) {
	path := ConfigPath()
	c, err := LoadFrom(path)
	return c, path, err
}

// LoadFrom reads the config at path and updates the in-memory config.
// A missing file is created with default values. Missing fields are filled
// from the defaults.
func LoadFrom(path string) (Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Config{}, fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(path), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
		def := defaultConfig()
		if err := ensureDBDir(def.DBPath); err != nil {
			return Config{}, err
		}
		if err := SaveTo(path, def); err != nil {
			return Config{}, fmt.Errorf("failed to create default config file: %w", err)
		}
		return def, nil
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	needsSave := fillDefaults(&c)

	if err := ensureDBDir(c.DBPath); err != nil {
		return Config{}, err
	}
	if needsSave {
		if err := SaveTo(path, c); err != nil {
			// The in-memory config is still usable.
			logrus.WithError(err).Warn("failed to save updated config")
		}
	}

	Set(c)
	return c, nil
}

// fillDefaults fills zero fields and reports whether a persisted field was
// generated.
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	needsSave := false

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.Aspect.W <= 0 || c.Aspect.H <= 0 {
		c.Aspect = def.Aspect
	}
	if c.SaveScale <= 0 {
		c.SaveScale = def.SaveScale
	}
	if c.ViewScale <= 0 {
		c.ViewScale = def.ViewScale
	}
	if c.PreviewEdge == 0 {
		c.PreviewEdge = def.PreviewEdge
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.ExportRunners <= 0 {
		c.ExportRunners = def.ExportRunners
	}
	if c.Depth.Width <= 0 || c.Depth.Height <= 0 {
		c.Depth.Width, c.Depth.Height = def.Depth.Width, def.Depth.Height
	}
	if c.Depth.NumDisparities <= 0 {
		c.Depth.NumDisparities = def.Depth.NumDisparities
	}
	if c.Depth.BlockSize <= 0 {
		c.Depth.BlockSize = def.Depth.BlockSize
	}
	if c.Depth.Divisor <= 0 {
		c.Depth.Divisor = def.Depth.Divisor
	}
	if c.JWTSecret == "" {
		c.JWTSecret = uuid.New().String()
		needsSave = true
	}
	return needsSave
}

func ensureDBDir(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}
	return nil
}

// Save writes the config to the default path.
func Save(c Config) (string, error) {
	path := ConfigPath()
	return path, SaveTo(path, c)
}

// SaveTo writes the config to path, merging over keys already in the file so
// settings written by newer versions survive.
func SaveTo(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return fmt.Errorf("failed to map config JSON: %w", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal merged config: %w", err)
	}
	if err := os.WriteFile(path, mergedData, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	Set(c)
	return nil
}
