package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Log      LogConfig
	Cache    CacheConfig
	Import   ImportConfig
	Invoice  InvoiceConfig
	Storage  StorageConfig
	Drive    DriveConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	AutoMigrate bool
}

// DSN returns the lib/pq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the connection string in postgres:// form.
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type AppConfig struct {
	UploadDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type CacheConfig struct {
	Enabled           bool
	RedisURL          string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	BatchTTLSeconds   int
	InvoiceTTLSeconds int
}

type ImportConfig struct {
	MaxFileBytes    int64
	MaxRows         int
	DefaultEncoding string
}

type InvoiceConfig struct {
	NumberPrefix  string
	Workers       int
	NumberRetries int
	DueDays       int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type DriveConfig struct {
	CredentialsJSON string
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		// Set default values
		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "debug")
		viper.SetDefault("SERVER_READ_TIMEOUT", 60)
		viper.SetDefault("SERVER_WRITE_TIMEOUT", 120)
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("DB_HOST", "localhost")
		viper.SetDefault("DB_PORT", "5432")
		viper.SetDefault("DB_USER", "postgres")
		viper.SetDefault("DB_PASSWORD", "postgres")
		viper.SetDefault("DB_NAME", "smy_billing")
		viper.SetDefault("DB_SSLMODE", "disable")
		viper.SetDefault("DB_AUTO_MIGRATE", false)
		viper.SetDefault("APP_UPLOAD_DIR", "./data/uploads")
		viper.SetDefault("LOG_LEVEL", "info")
		viper.SetDefault("LOG_FORMAT", "console")
		viper.SetDefault("CACHE_ENABLED", false)
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("CACHE_BATCH_TTL_SECONDS", 600)
		viper.SetDefault("CACHE_INVOICE_TTL_SECONDS", 60)
		viper.SetDefault("IMPORT_MAX_FILE_BYTES", 20*1024*1024)
		viper.SetDefault("IMPORT_MAX_ROWS", 100000)
		viper.SetDefault("IMPORT_DEFAULT_ENCODING", "auto")
		viper.SetDefault("INVOICE_NUMBER_PREFIX", "SMY")
		viper.SetDefault("INVOICE_WORKERS", 4)
		viper.SetDefault("INVOICE_NUMBER_RETRIES", 3)
		viper.SetDefault("INVOICE_DUE_DAYS", 30)
		viper.SetDefault("STORAGE_ENABLED", false)
		viper.SetDefault("STORAGE_BUCKET", "smy-imports")
		viper.SetDefault("STORAGE_REGION", "us-east-1")
		viper.SetDefault("STORAGE_USE_SSL", true)

		// Read from environment variables
		viper.AutomaticEnv()

		ensureDir(viper.GetString("APP_UPLOAD_DIR"))

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Database: DatabaseConfig{
				Host:        viper.GetString("DB_HOST"),
				Port:        viper.GetString("DB_PORT"),
				User:        viper.GetString("DB_USER"),
				Password:    viper.GetString("DB_PASSWORD"),
				DBName:      viper.GetString("DB_NAME"),
				SSLMode:     viper.GetString("DB_SSLMODE"),
				AutoMigrate: viper.GetBool("DB_AUTO_MIGRATE"),
			},
			App: AppConfig{
				UploadDir: viper.GetString("APP_UPLOAD_DIR"),
			},
			Log: LogConfig{
				Level:  viper.GetString("LOG_LEVEL"),
				Format: viper.GetString("LOG_FORMAT"),
			},
			Cache: CacheConfig{
				Enabled:           viper.GetBool("CACHE_ENABLED"),
				RedisURL:          viper.GetString("REDIS_URL"),
				RedisHost:         viper.GetString("REDIS_HOST"),
				RedisPort:         viper.GetString("REDIS_PORT"),
				RedisPassword:     viper.GetString("REDIS_PASSWORD"),
				RedisDB:           viper.GetInt("REDIS_DB"),
				BatchTTLSeconds:   viper.GetInt("CACHE_BATCH_TTL_SECONDS"),
				InvoiceTTLSeconds: viper.GetInt("CACHE_INVOICE_TTL_SECONDS"),
			},
			Import: ImportConfig{
				MaxFileBytes:    viper.GetInt64("IMPORT_MAX_FILE_BYTES"),
				MaxRows:         viper.GetInt("IMPORT_MAX_ROWS"),
				DefaultEncoding: viper.GetString("IMPORT_DEFAULT_ENCODING"),
			},
			Invoice: InvoiceConfig{
				NumberPrefix:  viper.GetString("INVOICE_NUMBER_PREFIX"),
				Workers:       viper.GetInt("INVOICE_WORKERS"),
				NumberRetries: viper.GetInt("INVOICE_NUMBER_RETRIES"),
				DueDays:       viper.GetInt("INVOICE_DUE_DAYS"),
			},
			Storage: StorageConfig{
				Enabled:   viper.GetBool("STORAGE_ENABLED"),
				Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
				AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
				SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
				Bucket:    viper.GetString("STORAGE_BUCKET"),
				Region:    viper.GetString("STORAGE_REGION"),
				UseSSL:    viper.GetBool("STORAGE_USE_SSL"),
			},
			Drive: DriveConfig{
				CredentialsJSON: viper.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
			},
		}
	})

	return instance
}

func ensureDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}
