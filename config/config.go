package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del backtester.
type Config struct {
	Backtest  BacktestConfig  `yaml:"backtest"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Data      DataConfig      `yaml:"data"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// BacktestConfig define el alcance por defecto de un run.
type BacktestConfig struct {
	Tickers              []string `yaml:"tickers"`
	StartDate            string   `yaml:"start_date"` // YYYY-MM-DD
	EndDate              string   `yaml:"end_date"`   // YYYY-MM-DD
	RiskFreeRate         float64  `yaml:"risk_free_rate"`
	ExpertTimeoutSeconds int      `yaml:"expert_timeout_seconds"`
}

// PortfolioConfig son las reglas de gestión de cartera del simulador.
type PortfolioConfig struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	PositionSizing  float64 `yaml:"position_sizing"`   // fracción de la cartera por posición nueva
	MaxPositionSize float64 `yaml:"max_position_size"` // tope duro por posición
	MaxPositions    int     `yaml:"max_positions"`
	CashReserve     float64 `yaml:"cash_reserve"`
	MinCashReserve  float64 `yaml:"min_cash_reserve"`
	TransactionCost float64 `yaml:"transaction_cost"`
	Slippage        float64 `yaml:"slippage"`
}

// DataConfig controla de dónde salen los precios y dónde caen los artefactos.
type DataConfig struct {
	PricesDir string `yaml:"prices_dir"` // directorio con los <ticker>.csv
	OutputDir string `yaml:"output_dir"` // directorios de run backtest_*
}

// LLMConfig apunta al servidor de inferencia local del experto analista.
type LLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"` // desactivado, solo corre el experto técnico
}

// StorageConfig controla dónde se persiste el índice de runs.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Dates parsea el rango de fechas del run.
func (c *Config) Dates() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", c.Backtest.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config.Dates: start_date %q: %w", c.Backtest.StartDate, err)
	}
	end, err = time.Parse("2006-01-02", c.Backtest.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config.Dates: end_date %q: %w", c.Backtest.EndDate, err)
	}
	return start, end, nil
}

// ExpertTimeout devuelve el timeout por experto como time.Duration.
func (c *Config) ExpertTimeout() time.Duration {
	return time.Duration(c.Backtest.ExpertTimeoutSeconds) * time.Second
}

// LLMTimeout devuelve el timeout del cliente LLM como time.Duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Backtest.RiskFreeRate < 0 {
		cfg.Backtest.RiskFreeRate = 0
	}
	if cfg.Backtest.ExpertTimeoutSeconds <= 0 {
		cfg.Backtest.ExpertTimeoutSeconds = 30
	}
	if cfg.Portfolio.InitialCapital <= 0 {
		cfg.Portfolio.InitialCapital = 100_000
	}
	if cfg.Portfolio.PositionSizing <= 0 {
		cfg.Portfolio.PositionSizing = 0.08
	}
	if cfg.Portfolio.MaxPositionSize <= 0 {
		cfg.Portfolio.MaxPositionSize = 0.25
	}
	if cfg.Portfolio.MaxPositions <= 0 {
		cfg.Portfolio.MaxPositions = 10
	}
	if cfg.Portfolio.CashReserve <= 0 {
		cfg.Portfolio.CashReserve = 0.2
	}
	if cfg.Portfolio.MinCashReserve <= 0 {
		cfg.Portfolio.MinCashReserve = 0.1
	}
	if cfg.Portfolio.TransactionCost <= 0 {
		cfg.Portfolio.TransactionCost = 0.001
	}
	if cfg.Portfolio.Slippage <= 0 {
		cfg.Portfolio.Slippage = 0.0005
	}
	if cfg.Data.PricesDir == "" {
		cfg.Data.PricesDir = "data/prices"
	}
	if cfg.Data.OutputDir == "" {
		cfg.Data.OutputDir = "logs"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3.1"
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 30
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "moebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
