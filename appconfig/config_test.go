package appconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Aspect != (Aspect{W: 16, H: 9}) {
		t.Errorf("Default Aspect = %+v; want 16:9", cfg.Aspect)
	}
	if cfg.SaveScale != 120 {
		t.Errorf("Default SaveScale = %d; want 120", cfg.SaveScale)
	}
	if cfg.JPEGQuality != 92 {
		t.Errorf("Default JPEGQuality = %d; want 92", cfg.JPEGQuality)
	}
	if cfg.ForceLinkedOnScale {
		t.Error("ForceLinkedOnScale should default to false")
	}
	if cfg.Depth.NumDisparities%16 != 0 || cfg.Depth.BlockSize%2 != 1 {
		t.Errorf("Default depth params invalid: %+v", cfg.Depth)
	}
	if cfg.JWTSecret == "" {
		t.Error("Default JWTSecret should not be empty")
	}
	if filepath.Base(cfg.DBPath) != "stereopair.db" {
		t.Errorf("Default DBPath = %q", cfg.DBPath)
	}
}

// TestGetSet verifies Get/Set functions for in-memory config
func TestGetSet(t *testing.T) {
	original := Get()
	defer Set(original)

	testConfig := Config{
		Addr:      ":9999",
		DBPath:    "/test/path/db.sqlite",
		SaveScale: 60,
	}
	Set(testConfig)

	retrieved := Get()
	if retrieved.Addr != testConfig.Addr {
		t.Errorf("Get().Addr = %q; want %q", retrieved.Addr, testConfig.Addr)
	}
	if retrieved.DBPath != testConfig.DBPath {
		t.Errorf("Get().DBPath = %q; want %q", retrieved.DBPath, testConfig.DBPath)
	}
	if retrieved.SaveScale != testConfig.SaveScale {
		t.Errorf("Get().SaveScale = %d; want %d", retrieved.SaveScale, testConfig.SaveScale)
	}
}

// TestIsJSONObject tests the JSON object detection helper
func TestIsJSONObject(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{`{}`, true},
		{`{"key": "value"}`, true},
		{`  {  }  `, true},
		{`[]`, false},
		{`"string"`, false},
		{`123`, false},
		{`null`, false},
		{``, false},
	}

	for _, tt := range tests {
		result := isJSONObject([]byte(tt.input))
		if result != tt.expected {
			t.Errorf("isJSONObject(%q) = %v; want %v", tt.input, result, tt.expected)
		}
	}
}

// TestDeepMergeJSON tests the JSON merge functionality
func TestDeepMergeJSON(t *testing.T) {
	tests := []struct {
		name     string
		dst      string
		src      string
		expected string
	}{
		{
			name:     "Simple merge",
			dst:      `{"a": "1"}`,
			src:      `{"b": "2"}`,
			expected: `{"a":"1","b":"2"}`,
		},
		{
			name:     "Override value",
			dst:      `{"a": "1"}`,
			src:      `{"a": "2"}`,
			expected: `{"a":"2"}`,
		},
		{
			name:     "Nested merge",
			dst:      `{"nested": {"a": "1"}}`,
			src:      `{"nested": {"b": "2"}}`,
			expected: `{"nested":{"a":"1","b":"2"}}`,
		},
		{
			name:     "Add new nested",
			dst:      `{"a": "1"}`,
			src:      `{"nested": {"b": "2"}}`,
			expected: `{"a":"1","nested":{"b":"2"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst map[string]json.RawMessage
			var src map[string]json.RawMessage

			json.Unmarshal([]byte(tt.dst), &dst)
			json.Unmarshal([]byte(tt.src), &src)

			deepMergeJSON(dst, src)

			result, _ := json.Marshal(dst)

			// Parse both for comparison (order-independent)
			var resultMap, expectedMap map[string]interface{}
			json.Unmarshal(result, &resultMap)
			json.Unmarshal([]byte(tt.expected), &expectedMap)

			if !mapsEqual(resultMap, expectedMap) {
				t.Errorf("deepMergeJSON result = %s; want %s", result, tt.expected)
			}
		})
	}
}

// mapsEqual compares two maps recursively
func mapsEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valuesEqual(v, bv) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok {
			return false
		}
		return mapsEqual(av, bv)
	default:
		return a == b
	}
}

// TestLoadFromCreatesDefaults verifies a missing file is written with defaults
func TestLoadFromCreatesDefaults(t *testing.T) {
	original := Get()
	defer Set(original)

	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("APPDATA", dir)
	path := filepath.Join(dir, "conf", "config.json")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error = %v", err)
	}
	if cfg.SaveScale != 120 {
		t.Errorf("SaveScale = %d; want 120", cfg.SaveScale)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}

// TestLoadFromFillsMissingFields verifies partial files are completed and
// generated secrets persisted
func TestLoadFromFillsMissingFields(t *testing.T) {
	original := Get()
	defer Set(original)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	partial := `{"dbPath": "` + filepath.ToSlash(filepath.Join(dir, "db", "x.db")) + `", "saveScale": 60, "depth": {"blockSize": 5}, "futureSetting": "kept"}`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error = %v", err)
	}
	if cfg.SaveScale != 60 {
		t.Errorf("SaveScale = %d; want 60", cfg.SaveScale)
	}
	if cfg.Depth.BlockSize != 5 || cfg.Depth.NumDisparities != 32 {
		t.Errorf("Depth = %+v; want blockSize 5 and default disparities", cfg.Depth)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("JWTSecret should be generated")
	}
	if Get().SaveScale != 60 {
		t.Error("LoadFrom should update the in-memory config")
	}

	data, _ := os.ReadFile(path)
	var onDisk map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("saved config is not JSON: %v", err)
	}
	if onDisk["jwtSecret"] != cfg.JWTSecret {
		t.Error("generated JWTSecret was not persisted")
	}
	if onDisk["futureSetting"] != "kept" {
		t.Error("unknown keys should survive a save")
	}
	if _, err := os.Stat(filepath.Join(dir, "db")); err != nil {
		t.Errorf("database directory not created: %v", err)
	}
}

// TestLoadFromRejectsBadJSON verifies parse errors are reported
func TestLoadFromRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom should fail on malformed JSON")
	}
}

// TestConfigJSONKeys verifies the JSON field names
func TestConfigJSONKeys(t *testing.T) {
	data, err := json.Marshal(defaultConfig())
	if err != nil {
		t.Fatalf("json.Marshal error = %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Result is not valid JSON: %v", err)
	}
	for _, key := range []string{"addr", "dbPath", "aspect", "saveScale", "viewScale", "jpegQuality", "forceLinkedOnScale", "depth", "jwtSecret", "passphraseHash"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("Expected key %q not found in JSON output", key)
		}
	}
}

// TestSaveToClearsPassphrase verifies an empty hash overwrites a stored one
func TestSaveToClearsPassphrase(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")
	c := defaultConfig()
	c.PassphraseHash = "$2a$10$abc"
	if err := SaveTo(path, c); err != nil {
		t.Fatal(err)
	}
	c.PassphraseHash = ""
	if err := SaveTo(path, c); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.PassphraseHash != "" {
		t.Errorf("PassphraseHash = %q; want empty", got.PassphraseHash)
	}
}

// TestConfigConcurrency tests concurrent access to Get/Set
func TestConfigConcurrency(t *testing.T) {
	// Save original and restore after test
	original := Get()
	defer Set(original)

	done := make(chan bool)

	// Writer goroutine
	go func() {
		for i := 0; i < 100; i++ {
			Set(Config{DBPath: "/path"})
		}
		done <- true
	}()

	// Reader goroutine
	go func() {
		for i := 0; i < 100; i++ {
			_ = Get()
		}
		done <- true
	}()

	// Wait for both to complete
	<-done
	<-done
}
