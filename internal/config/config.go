package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type GatewayConfig struct {
	Name         string `toml:"name"`
	BindAddr     string `toml:"bind_addr"`
	UnitBindAddr string `toml:"unit_bind_addr"` // connectionless port, empty disables
	MetricsAddr  string `toml:"metrics_addr"`

	WTP    WTPConfig    `toml:"wtp"`
	WSP    WSPConfig    `toml:"wsp"`
	PPG    PPGConfig    `toml:"ppg"`
	Origin OriginConfig `toml:"origin"`
}

type WTPConfig struct {
	AckIntervalMS        int `toml:"ack_interval_ms"`
	RetransmitIntervalMS int `toml:"retransmit_interval_ms"`
	WaitTimeoutMS        int `toml:"wait_timeout_ms"`
	MaxRetransmit        int `toml:"max_retransmit"`
	MaxAckWaits          int `toml:"max_ack_waits"`
	SegSize              int `toml:"seg_size"`
	GroupLen             int `toml:"group_len"`
	TIDWindowS           int `toml:"tid_window_s"`
}

type WSPConfig struct {
	MaxClientSDUSize uint32 `toml:"max_client_sdu_size"`
	MaxServerSDUSize uint32 `toml:"max_server_sdu_size"`
}

type PPGConfig struct {
	MaxPending int `toml:"max_pending"`
}

type OriginConfig struct {
	TimeoutMS   int   `toml:"timeout_ms"`
	MaxAttempts int   `toml:"max_attempts"`
	RetryMinMS  int   `toml:"retry_min_ms"`
	RetryMaxMS  int   `toml:"retry_max_ms"`
	MaxBody     int64 `toml:"max_body"`
}

func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadToml(path, &cfg); err != nil {
		return GatewayConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "wapgw"
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = ":9201"
	}
	if err := ValidateGatewayConfig(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("gateway config missing name")
	}
	if strings.TrimSpace(cfg.BindAddr) == "" {
		return fmt.Errorf("gateway config missing bind_addr")
	}
	if cfg.UnitBindAddr != "" && cfg.UnitBindAddr == cfg.BindAddr {
		return fmt.Errorf("unit_bind_addr collides with bind_addr: %s", cfg.BindAddr)
	}
	if cfg.WTP.SegSize < 0 || cfg.WTP.GroupLen < 0 {
		return fmt.Errorf("wtp segmentation settings must not be negative")
	}
	if cfg.WTP.MaxRetransmit < 0 || cfg.WTP.MaxAckWaits < 0 {
		return fmt.Errorf("wtp retry settings must not be negative")
	}
	if cfg.PPG.MaxPending < 0 {
		return fmt.Errorf("ppg max_pending must not be negative")
	}
	if cfg.Origin.MaxAttempts < 0 {
		return fmt.Errorf("origin max_attempts must not be negative")
	}
	return nil
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
