package config

import (
	"os"
	"path"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/driftchan/driftchan/internal/domain"
)

type Config struct {
	Public  Public
	private Private
}

type Public struct {
	Pg      Pg      `yaml:"pg"`
	Uploads Uploads `yaml:"uploads"`
	Log     Log     `yaml:"log"`
}

type Pg struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname" validate:"required"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Uploads carries every tunable the attachment subsystem consumes.
// Zero means "unlimited" for the size and count limits.
type Uploads struct {
	BaseDir        string `yaml:"base_dir" validate:"required"`
	RotationPolicy string `yaml:"rotation_policy"` // manual, year, year_month, random, random2

	MaxFileBytes  int64  `yaml:"max_file_bytes"`
	MaxPostBytes  int64  `yaml:"max_post_bytes"`
	MaxPostFiles  int    `yaml:"max_post_files"`
	MaxDirBytes   int64  `yaml:"max_dir_bytes"`
	MaxDirFiles   int    `yaml:"max_dir_files"`
	WarnDirBytes  int64  `yaml:"warn_dir_bytes"`
	AllowedExtens string `yaml:"allowed_extensions"` // comma separated, case insensitive

	ThumbnailsEnabled bool `yaml:"thumbnails_enabled"`
	ThumbMaxWidth     int  `yaml:"thumb_max_width"`
	ThumbMaxHeight    int  `yaml:"thumb_max_height"`

	ReencodeOnFail     bool `yaml:"reencode_on_fail"`
	ParanoidChecks     bool `yaml:"paranoid_checks"`
	CountThumbsInQuota bool `yaml:"count_thumbnails_in_quota"`
}

type Private struct {
	HashSecret string `yaml:"hash_secret" validate:"required"`
}

func (c *Config) HashSecret() string {
	return c.private.HashSecret
}

// Policy maps the config string onto the domain enum. Unknown values
// fall back to the manual counter policy.
func (u Uploads) Policy() domain.RotationPolicy {
	switch u.RotationPolicy {
	case "year":
		return domain.RotatePerYear
	case "year_month":
		return domain.RotatePerYearMonth
	case "random":
		return domain.RotateRandom1
	case "random2":
		return domain.RotateRandom2
	default:
		return domain.RotateManualCounter
	}
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	if err = yaml.Unmarshal(configFile, output); err != nil {
		panic("can't unmarshal config file")
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&public); err != nil {
		panic("invalid public config: " + err.Error())
	}
	if err := validate.Struct(&private); err != nil {
		panic("invalid private config: " + err.Error())
	}

	return &Config{public, private}
}

// NewForTest builds a Config without touching the filesystem.
func NewForTest(public Public, hashSecret string) *Config {
	return &Config{public, Private{HashSecret: hashSecret}}
}
