package db

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const driverName = "mysql"

// Environment overrides for the store endpoint and privileged access key.
// Either one missing (after merging config file + env) is a startup error.
const (
	envDBAddr     = "LIBRARY_DB_ADDR"
	envDBPassword = "LIBRARY_DB_PASSWORD"
	envJWTSecret  = "LIBRARY_JWT_SECRET"
)

type DatabaseConfig struct {
	Addr     string `yaml:"addr"` // host:port
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Config struct {
	Mode      string         `yaml:"mode"` // dev | release
	Listen    string         `yaml:"listen"`
	DB        DatabaseConfig `yaml:"database"`
	JWTSecret string         `yaml:"jwt_secret"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// env wins over the file
	if v := os.Getenv(envDBAddr); v != "" {
		cfg.DB.Addr = v
	}
	if v := os.Getenv(envDBPassword); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv(envJWTSecret); v != "" {
		cfg.JWTSecret = v
	}

	if cfg.DB.Addr == "" {
		return nil, fmt.Errorf("store endpoint not configured (set database.addr or %s)", envDBAddr)
	}
	if cfg.DB.Password == "" {
		return nil, fmt.Errorf("store access key not configured (set database.password or %s)", envDBPassword)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return &cfg, nil
}

func Connect(c DatabaseConfig) (*sql.DB, error) {
	// per-call bounds live in the DSN; a slow store surfaces as an error,
	// never a hung request
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		c.Username, c.Password, c.Addr, c.DBName)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	db.SetMaxOpenConns(40)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
