package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FieldType is the declared type of an extracted field.
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldInteger    FieldType = "integer"
	FieldNumber     FieldType = "number"
	FieldBoolean    FieldType = "boolean"
	FieldStringList FieldType = "list[string]"
)

// ParseFieldType normalizes a config type tag into a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str":
		return FieldString, nil
	case "integer", "int":
		return FieldInteger, nil
	case "number", "float":
		return FieldNumber, nil
	case "boolean", "bool":
		return FieldBoolean, nil
	case "list[string]", "list", "array":
		return FieldStringList, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// FieldSpec describes one field to extract from a document.
type FieldSpec struct {
	Name        string
	Type        FieldType
	Description string
}

type rawFieldSpec struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Fields is the ordered list of field specs for a profile. It decodes from a
// YAML mapping; declaration order is preserved so schema and prompt output
// stay deterministic.
type Fields []FieldSpec

func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("fields: expected a mapping, got %s", node.Tag)
	}
	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		var raw rawFieldSpec
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key.Value, err)
		}
		ft, err := ParseFieldType(raw.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", key.Value, err)
		}
		out = append(out, FieldSpec{
			Name:        key.Value,
			Type:        ft,
			Description: raw.Description,
		})
	}
	*f = out
	return nil
}

// Get returns the spec for a field name, if declared.
func (f Fields) Get(name string) (FieldSpec, bool) {
	for _, fs := range f {
		if fs.Name == name {
			return fs, true
		}
	}
	return FieldSpec{}, false
}

// Action types.
const (
	ActionWebhook     = "webhook"
	ActionSaveJSON    = "save_json"
	ActionMoveFile    = "move_file"
	ActionCalDAVEvent = "add_caldav_event"
)

// Action configures one dispatch sink. The populated params depend on Type.
type Action struct {
	Type string `yaml:"type"`

	// webhook
	URL string `yaml:"url,omitempty"`

	// save_json
	Path string `yaml:"path,omitempty"`

	// move_file
	BaseDir      string `yaml:"base_dir,omitempty"`
	PathTemplate string `yaml:"path_template,omitempty"`

	// add_caldav_event
	CalendarURL     string            `yaml:"calendar_url,omitempty"`
	UsernameEnv     string            `yaml:"username_env,omitempty"`
	PasswordEnv     string            `yaml:"password_env,omitempty"`
	SummaryTemplate string            `yaml:"summary_template,omitempty"`
	CalendarMap     map[string]string `yaml:"calendar_map,omitempty"`
}

func (a Action) validate() error {
	switch a.Type {
	case ActionWebhook:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("webhook action requires url")
		}
	case ActionSaveJSON:
		if strings.TrimSpace(a.Path) == "" {
			return fmt.Errorf("save_json action requires path")
		}
	case ActionMoveFile:
		if strings.TrimSpace(a.BaseDir) == "" || strings.TrimSpace(a.PathTemplate) == "" {
			return fmt.Errorf("move_file action requires base_dir and path_template")
		}
	case ActionCalDAVEvent:
		if strings.TrimSpace(a.CalendarURL) == "" {
			return fmt.Errorf("add_caldav_event action requires calendar_url")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Profile maps a file-matching rule to a field schema and an action list.
// Profiles are loaded once at startup and never mutated.
type Profile struct {
	Name         string   `yaml:"name"`
	MatchPattern string   `yaml:"match_pattern"`
	Description  string   `yaml:"description"`
	Fields       Fields   `yaml:"fields"`
	Actions      []Action `yaml:"actions"`
}

// Duration wraps time.Duration for YAML values like "2s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// System holds daemon-wide settings.
type System struct {
	WatchDir      string `yaml:"watch_dir"`
	ProcessedDir  string `yaml:"processed_dir"`
	ErrorDir      string `yaml:"error_dir"`
	CategoriesDir string `yaml:"categories_dir,omitempty"`

	Model          string   `yaml:"model"`
	BaseURL        string   `yaml:"base_url,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`

	MaxAttempts   int      `yaml:"max_attempts"`
	BaseDelay     Duration `yaml:"base_delay"`
	MaxDelay      Duration `yaml:"max_delay,omitempty"`
	MaxConcurrent int      `yaml:"max_concurrent_extractions"`
	QueueSize     int      `yaml:"queue_size,omitempty"`

	LogFile  string `yaml:"log_file,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

// Config is the root configuration object.
type Config struct {
	System   System    `yaml:"system"`
	Profiles []Profile `yaml:"profiles"`
}

// Load reads, validates, and finalizes configuration from a YAML file.
// Watch/processed/error directories are created if missing.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, dir := range []string{cfg.System.WatchDir, cfg.System.ProcessedDir, cfg.System.ErrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	if cfg.System.CategoriesDir != "" {
		if ctxText := LoadCategoriesContext(cfg.System.CategoriesDir); ctxText != "" {
			injectCategories(cfg, ctxText)
		}
	}
	return cfg, nil
}

// Parse decodes and validates configuration bytes without touching the
// filesystem.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	s := &c.System
	if s.Model == "" {
		s.Model = "gpt-4o-mini"
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = Duration(time.Second)
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = Duration(30 * time.Second)
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 2
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 256
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = Duration(90 * time.Second)
	}
	if s.LogLevel == "" {
		s.LogLevel = "INFO"
	}
}

func (c *Config) applyEnvOverrides() {
	c.System.Model = getEnv("PRINT_ETL_MODEL", c.System.Model)
	c.System.BaseURL = getEnv("PRINT_ETL_BASE_URL", c.System.BaseURL)
	c.System.LogLevel = getEnv("PRINT_ETL_LOG_LEVEL", c.System.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks structural invariants the pipeline relies on.
func (c *Config) Validate() error {
	s := c.System
	if s.WatchDir == "" || s.ProcessedDir == "" || s.ErrorDir == "" {
		return fmt.Errorf("system: watch_dir, processed_dir, and error_dir are required")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	seen := map[string]struct{}{}
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("profile #%d: name is required", i+1)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("profile %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.MatchPattern == "" {
			return fmt.Errorf("profile %q: match_pattern is required", p.Name)
		}
		if !doublestar.ValidatePattern(p.MatchPattern) {
			return fmt.Errorf("profile %q: invalid match_pattern %q", p.Name, p.MatchPattern)
		}
		if len(p.Fields) == 0 {
			return fmt.Errorf("profile %q: at least one field is required", p.Name)
		}
		for j, a := range p.Actions {
			if err := a.validate(); err != nil {
				return fmt.Errorf("profile %q action #%d: %w", p.Name, j+1, err)
			}
		}
	}
	return nil
}

// LoadCategoriesContext reads category definitions from *.txt files under
// dir and formats them for prompt injection. Missing dir yields "".
func LoadCategoriesContext(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	lines := []string{"以下はカテゴリとその定義です。この定義に基づいて最適なフォルダを選択してください："}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, "~") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(content))
		category := strings.TrimSuffix(name, ".txt")
		if text == "" {
			text = category
		}
		text = strings.ReplaceAll(strings.ReplaceAll(text, "\r", ""), "\n", " ")
		lines = append(lines, "- 【"+category+"】: "+text)
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// injectCategories appends the categories context to the description of any
// profile field named "category_folder".
func injectCategories(cfg *Config, ctxText string) {
	for pi := range cfg.Profiles {
		fields := cfg.Profiles[pi].Fields
		for fi := range fields {
			if fields[fi].Name == "category_folder" {
				fields[fi].Description = fields[fi].Description + "\n\n" + ctxText
			}
		}
	}
}
