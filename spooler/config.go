package spooler

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type DirectoriesConfig struct {
	Pending   string `yaml:"pending"`
	Processed string `yaml:"processed"`
	Rejected  string `yaml:"rejected"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BatchConfig struct {
	MaxFiles      int           `yaml:"max_files"`
	MaxFileSizeMB int           `yaml:"max_file_size_mb"`
	Workers       int           `yaml:"workers"`
	Strict        bool          `yaml:"strict"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ExtensionsConfig accepts either:
//  1. list form (preferred):
//     extensions: [.xml, .XML]
//  2. comma-separated scalar:
//     extensions: ".xml,.nfe"
type ExtensionsConfig struct {
	Items []string
}

func (e *ExtensionsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		e.Items = splitList(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		e.Items = normalizeExtensions(items)
		return nil
	default:
		// ignore other kinds
		return nil
	}
}

func splitList(s string) []string {
	return normalizeExtensions(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	}))
}

type FileConfig struct {
	Directories DirectoriesConfig `yaml:"directories"`
	Database    DatabaseConfig    `yaml:"database"`
	Batch       BatchConfig       `yaml:"batch"`
	Extensions  ExtensionsConfig  `yaml:"extensions"`

	// Optional RFC 5424 collector (tcp) receiving one line per outcome.
	SyslogAddr string `yaml:"syslog_addr"`
	Service    string `yaml:"service"`
	Job        string `yaml:"job"`
	Debug      bool   `yaml:"debug"`
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() *FileConfig {
	return &FileConfig{
		Directories: DirectoriesConfig{
			Pending:   "data/pending",
			Processed: "data/processed",
			Rejected:  "data/rejected",
		},
		Database: DatabaseConfig{Path: "data/fiscal.db"},
		Batch: BatchConfig{
			MaxFiles:      DefaultMaxFiles,
			MaxFileSizeMB: DefaultMaxFileSize >> 20,
			Workers:       1,
		},
		Extensions: ExtensionsConfig{Items: []string{".xml"}},
		Service:    "fiscal",
		Job:        defaultAppName,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBindings maps config keys to the environment variables that override
// them, checked in order.
var envBindings = map[string][]string{
	"pending_dir":      {"FISCAL_PENDING_DIR", "XML_PENDING_DIR"},
	"processed_dir":    {"FISCAL_PROCESSED_DIR", "XML_PROCESSED_DIR"},
	"rejected_dir":     {"FISCAL_REJECTED_DIR", "XML_REJECTED_DIR"},
	"db_path":          {"FISCAL_DB_PATH", "DATABASE_PATH"},
	"max_files":        {"FISCAL_MAX_FILES", "MAX_FILES_PER_BATCH"},
	"max_file_size_mb": {"FISCAL_MAX_FILE_SIZE_MB", "MAX_FILE_SIZE_MB"},
	"workers":          {"FISCAL_WORKERS"},
	"strict":           {"FISCAL_STRICT"},
	"timeout":          {"FISCAL_TIMEOUT"},
	"extensions":       {"FISCAL_EXTENSIONS"},
	"syslog_addr":      {"FISCAL_SYSLOG_ADDR"},
	"service":          {"FISCAL_SERVICE"},
	"job":              {"FISCAL_JOB"},
	"debug":            {"FISCAL_DEBUG"},
}

// ApplyEnv overrides cfg with any bound environment variable that is set.
// A nil v uses a fresh viper instance.
func ApplyEnv(cfg *FileConfig, v *viper.Viper) error {
	if v == nil {
		v = viper.New()
	}
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := strings.TrimSpace(v.GetString(key)); s != "" {
				*dst = s
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			if n := v.GetInt(key); n > 0 {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("pending_dir", &cfg.Directories.Pending)
	setString("processed_dir", &cfg.Directories.Processed)
	setString("rejected_dir", &cfg.Directories.Rejected)
	setString("db_path", &cfg.Database.Path)
	setInt("max_files", &cfg.Batch.MaxFiles)
	setInt("max_file_size_mb", &cfg.Batch.MaxFileSizeMB)
	setInt("workers", &cfg.Batch.Workers)
	setBool("strict", &cfg.Batch.Strict)
	if v.IsSet("timeout") {
		cfg.Batch.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("extensions") {
		if items := splitList(v.GetString("extensions")); len(items) > 0 {
			cfg.Extensions.Items = items
		}
	}
	setString("syslog_addr", &cfg.SyslogAddr)
	setString("service", &cfg.Service)
	setString("job", &cfg.Job)
	setBool("debug", &cfg.Debug)
	return nil
}

// RunnerConfig converts the merged file configuration for NewRunner.
func (c *FileConfig) RunnerConfig(logger *slog.Logger) RunnerConfig {
	return RunnerConfig{
		PendingDir:   c.Directories.Pending,
		ProcessedDir: c.Directories.Processed,
		RejectedDir:  c.Directories.Rejected,
		MaxFiles:     c.Batch.MaxFiles,
		MaxFileSize:  int64(c.Batch.MaxFileSizeMB) << 20,
		Extensions:   c.Extensions.Items,
		Strict:       c.Batch.Strict,
		Workers:      c.Batch.Workers,
		Timeout:      c.Batch.Timeout,
		SyslogAddr:   c.SyslogAddr,
		ServiceLabel: c.Service,
		JobLabel:     c.Job,
		Logger:       logger,
	}
}
