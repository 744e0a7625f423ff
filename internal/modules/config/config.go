package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Env string `yaml:"env"` // prod | dev

	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`

	DB string `yaml:"db_dsn"` // пусто => только CSV-синк

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Tracing struct {
		Host string `yaml:"host"` // пусто => трейсер не поднимаем
		Port int    `yaml:"port"`
	} `yaml:"tracing"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Дефолты сессии (форма создания подставляет их, через API можно переопределить)
	StartBalance     float64 `yaml:"start_balance"`
	EntryThreshold   float64 `yaml:"entry_threshold"` // %
	ExitThreshold    float64 `yaml:"exit_threshold"`  // %
	FeePct           float64 `yaml:"fee_pct"`
	MAEStopEnabled   bool    `yaml:"mae_stop_enabled"`
	MAEStopThreshold float64 `yaml:"mae_stop_threshold"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`

	// Каденс опроса по интервалам, напр. {"5s": "5s", "1m": "1m", "1h": "1h"}.
	// В yaml длительности лежат строками, парсим их после декода.
	PollIntervals    map[string]time.Duration `yaml:"-"`
	RawPollIntervals map[string]string        `yaml:"poll_intervals"`

	// Апстрим с таблицей прогнозов: отдельный эндпоинт для 5s и общий для 1m/1h
	Endpoints struct {
		FiveSec    string `yaml:"five_sec"`
		MinuteHour string `yaml:"minute_hour"`
	} `yaml:"endpoints"`

	FetchTimeout    time.Duration `yaml:"-"`
	RawFetchTimeout string        `yaml:"fetch_timeout"`
	FetchRetries    int           `yaml:"fetch_retries"`

	AuthFile string `yaml:"auth_file"` // auth.yaml с basic-кредами
	CSVDir   string `yaml:"csv_dir"`   // куда пишем simulation_<id>.csv

	WSRefresh    time.Duration `yaml:"-"` // период пуша summaries в /ws/sessions
	RawWSRefresh string        `yaml:"ws_refresh"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		Env:      "prod",
		LogLevel: getenvDefault("LOG_LEVEL", "info"),
		LogFile:  "simulator.log",

		StartBalance:     floatFromEnv("START_BALANCE", 1000),
		EntryThreshold:   floatFromEnv("ENTRY_THRESHOLD", 0.03),
		ExitThreshold:    floatFromEnv("EXIT_THRESHOLD", 0.03),
		FeePct:           floatFromEnv("FEE_PCT", 0.075),
		MAEStopEnabled:   boolFromEnv("MAE_STOP_ENABLED", false),
		MAEStopThreshold: floatFromEnv("MAE_STOP_THRESHOLD", 50),
		StopLossPct:      floatFromEnv("STOP_LOSS_PCT", 1.5),

		FetchTimeout: durationFromEnv("FETCH_TIMEOUT", "10s"),
		FetchRetries: intFromEnv("FETCH_RETRIES", 2),

		AuthFile: getenvDefault("AUTH_FILE", "auth.yaml"),
		CSVDir:   getenvDefault("CSV_DIR", "logs"),

		WSRefresh: durationFromEnv("WS_REFRESH", "5s"),
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	if d, err := time.ParseDuration(config.RawFetchTimeout); err == nil && d > 0 {
		config.FetchTimeout = d
	}
	if d, err := time.ParseDuration(config.RawWSRefresh); err == nil && d > 0 {
		config.WSRefresh = d
	}

	config.PollIntervals = make(map[string]time.Duration, len(config.RawPollIntervals))
	for iv, raw := range config.RawPollIntervals {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Fatalf("Bad poll interval %q for %q: %v", raw, iv, err)
		}
		config.PollIntervals[iv] = d
	}
	if len(config.PollIntervals) == 0 {
		config.PollIntervals = map[string]time.Duration{
			"5s": 5 * time.Second,
			"1m": time.Minute,
			"1h": time.Hour,
		}
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	return &config, nil
}

// HasInterval — известен ли интервал конфигу. Командная поверхность
// не даёт стартовать сессию с меткой, под которую нет ни каденса,
// ни колонок в апстрим-таблице.
func (c *Config) HasInterval(interval string) bool {
	_, ok := c.PollIntervals[interval]
	return ok
}

// PollInterval — каденс воркера для интервала; неизвестный интервал опрашиваем раз в 5 секунд.
func (c *Config) PollInterval(interval string) time.Duration {
	if d, ok := c.PollIntervals[interval]; ok && d > 0 {
		return d
	}
	return 5 * time.Second
}

// Endpoint — какой апстрим дёргать для данного интервала.
func (c *Config) Endpoint(interval string) string {
	if interval == "5s" {
		return c.Endpoints.FiveSec
	}
	return c.Endpoints.MinuteHour
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
