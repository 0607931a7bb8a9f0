package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Versioning VersioningConfig `mapstructure:"versioning"`
	BOM        BOMConfig        `mapstructure:"bom"`
	Log        LogConfig        `mapstructure:"log"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Debug           bool          `mapstructure:"debug"`
}

type StorageConfig struct {
	FilesRoot  string `mapstructure:"files_root"`
	TempFolder string `mapstructure:"temp_folder"`
}

type VersioningConfig struct {
	MaxFileVersions int      `mapstructure:"max_file_versions"`
	CADExtensions   []string `mapstructure:"cad_extensions"`
}

type BOMConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DefaultCADExtensions are the file types that get backup rotation on re-upload.
var DefaultCADExtensions = []string{
	".prt", ".asm", ".drw", ".stl", ".3mf", ".obj",
	".step", ".stp", ".sldprt", ".sldasm", ".ipt", ".iam",
}

// Load reads config from path, or from config.yaml in ./configs or . when path is empty.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file, env and defaults only
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "/srv/plm/plm.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.busy_timeout", 10*time.Second)
	v.SetDefault("storage.files_root", "/srv/plm/files")
	v.SetDefault("storage.temp_folder", "Temp")
	v.SetDefault("versioning.max_file_versions", 3)
	v.SetDefault("versioning.cad_extensions", DefaultCADExtensions)
	v.SetDefault("bom.max_depth", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.channel", "plm:audit")
}

func bindEnvVariables(v *viper.Viper) {
	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Storage
	v.BindEnv("storage.files_root", "FILES_ROOT")

	// Versioning
	v.BindEnv("versioning.max_file_versions", "MAX_FILE_VERSIONS")
	v.BindEnv("versioning.cad_extensions", "CAD_EXTENSIONS")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// MinIO
	v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("minio.bucket", "MINIO_BUCKET")
}

// Default returns a sqlite-backed config rooted at dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:      "sqlite",
			Path:        filepath.Join(dataDir, "plm.db"),
			BusyTimeout: 10 * time.Second,
		},
		Storage:    StorageConfig{FilesRoot: filepath.Join(dataDir, "files"), TempFolder: "Temp"},
		Versioning: VersioningConfig{MaxFileVersions: 3, CADExtensions: append([]string(nil), DefaultCADExtensions...)},
		BOM:        BOMConfig{MaxDepth: 20},
		Log:        LogConfig{Level: "info", Format: "console"},
		Redis:      RedisConfig{Port: 6379, Channel: "plm:audit"},
	}
	cfg.normalize()
	return cfg
}

// normalize lower-cases CAD extensions and makes sure each has a leading dot.
func (c *Config) normalize() {
	exts := make([]string, 0, len(c.Versioning.CADExtensions))
	for _, raw := range c.Versioning.CADExtensions {
		for _, ext := range strings.Split(raw, ",") {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
	}
	c.Versioning.CADExtensions = exts

	if c.Storage.FilesRoot != "" {
		if abs, err := filepath.Abs(c.Storage.FilesRoot); err == nil {
			c.Storage.FilesRoot = abs
		}
	}
}

// Validate checks the values the core cannot run without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Storage.FilesRoot == "" {
		return fmt.Errorf("storage.files_root is required")
	}
	if c.Versioning.MaxFileVersions < 1 {
		return fmt.Errorf("versioning.max_file_versions must be at least 1")
	}
	if c.BOM.MaxDepth < 1 {
		return fmt.Errorf("bom.max_depth must be at least 1")
	}
	return nil
}

// IsCADFile reports whether filename has one of the configured CAD extensions.
func (c VersioningConfig) IsCADFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, e := range c.CADExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
