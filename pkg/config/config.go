package config

import "time"

// Config holds runtime configuration for the vending machine service.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Machine   MachineConfig   `mapstructure:"machine" validate:"required"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Demo      bool            `mapstructure:"demo"`
}

// LoggerConfig controls log output format, level, and file rotation.
type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string        `mapstructure:"format" validate:"omitempty,oneof=text json"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file sink.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig controls error reporting.
type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// HTTPConfig configures the metrics and health endpoint server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig configures the optional shelf-lock Redis instance.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JournalConfig configures the optional PostgreSQL sales journal.
type JournalConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DSN           string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// MachineConfig sizes the inventory.
type MachineConfig struct {
	ShelfCapacity int `mapstructure:"shelf_capacity" validate:"required,gt=0"`
	CodeBase      int `mapstructure:"code_base" validate:"omitempty,gt=0"`
}

// InventoryConfig lists the products loaded onto the shelves at startup and
// re-applied on config reload.
type InventoryConfig struct {
	Prefill []PrefillItem `mapstructure:"prefill" validate:"dive"`
}

// PrefillItem stocks one shelf.
type PrefillItem struct {
	Code       int    `mapstructure:"code" validate:"required,gt=0"`
	Type       string `mapstructure:"type" validate:"required,oneof=coke pepsi juice soda"`
	PriceCents int    `mapstructure:"price_cents" validate:"gte=0"`
}
