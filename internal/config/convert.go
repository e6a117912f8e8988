package config

import (
	"time"

	"github.com/teleguys/kannel-sub001/internal/bridge"
	"github.com/teleguys/kannel-sub001/internal/ppg"
	"github.com/teleguys/kannel-sub001/internal/wsp"
	"github.com/teleguys/kannel-sub001/internal/wtp"
)

// The layer packages keep their own defaults; conversion only overrides
// what the file actually sets.

func (c WTPConfig) Layer() wtp.Config {
	cfg := wtp.DefaultConfig()
	cfg.AckInterval = millis(c.AckIntervalMS, cfg.AckInterval)
	cfg.RetransmitInterval = millis(c.RetransmitIntervalMS, cfg.RetransmitInterval)
	cfg.WaitTimeout = millis(c.WaitTimeoutMS, cfg.WaitTimeout)
	if c.MaxRetransmit > 0 {
		cfg.MaxRetransmit = c.MaxRetransmit
	}
	if c.MaxAckWaits > 0 {
		cfg.MaxAckWaits = c.MaxAckWaits
	}
	if c.SegSize > 0 {
		cfg.SegSize = c.SegSize
	}
	if c.GroupLen > 0 {
		cfg.GroupLen = c.GroupLen
	}
	if c.TIDWindowS > 0 {
		cfg.TIDWindow = time.Duration(c.TIDWindowS) * time.Second
	}
	return cfg
}

func (c WSPConfig) Layer() wsp.Config {
	cfg := wsp.DefaultConfig()
	if c.MaxClientSDUSize > 0 {
		cfg.MaxClientSDUSize = c.MaxClientSDUSize
	}
	if c.MaxServerSDUSize > 0 {
		cfg.MaxServerSDUSize = c.MaxServerSDUSize
	}
	return cfg
}

func (c PPGConfig) Gateway() ppg.Config {
	cfg := ppg.DefaultConfig()
	if c.MaxPending > 0 {
		cfg.MaxPending = c.MaxPending
	}
	return cfg
}

func (c OriginConfig) Bridge() bridge.Config {
	cfg := bridge.DefaultConfig()
	cfg.Timeout = millis(c.TimeoutMS, cfg.Timeout)
	cfg.RetryMin = millis(c.RetryMinMS, cfg.RetryMin)
	cfg.RetryMax = millis(c.RetryMaxMS, cfg.RetryMax)
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.MaxBody > 0 {
		cfg.MaxBody = c.MaxBody
	}
	return cfg
}
