// Package config loads the node configuration document. The document can be
// YAML, JSON or TOML and any value can be overridden from the environment
// with the LEDGER_ prefix.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jinzhu/configor"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/peer"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/ledgercore/node/foundation/blockchain/worker"
	"github.com/ledgercore/node/foundation/validate"
)

// EnvPrefix is the prefix of the environment overrides.
const EnvPrefix = "LEDGER"

// Config represents the configuration document of the node core. PingSec,
// MaxStackSize, MaxSigOps and CacheSize are accepted and validated but
// reserved: the node runs no keepalive, no script interpreter and no
// transaction cache that could use them.
type Config struct {
	Network string `yaml:"network" json:"network" default:"mainnet" validate:"oneof=mainnet testnet regtest"`
	DataDir string `yaml:"data_dir" json:"data_dir" default:"zblock" validate:"required"`

	Peers struct {
		MaxConnections int `yaml:"max_connections" json:"max_connections" default:"125" validate:"gte=0"`
		MaxOutbound    int `yaml:"max_outbound" json:"max_outbound" default:"8" validate:"gte=0"`
		MaxInbound     int `yaml:"max_inbound" json:"max_inbound" default:"117" validate:"gte=0"`
	} `yaml:"peers" json:"peers"`

	Timeouts struct {
		ConnectionSec int `yaml:"connection_sec" json:"connection_sec" default:"30" validate:"gt=0"`
		HandshakeSec  int `yaml:"handshake_sec" json:"handshake_sec" default:"10" validate:"gt=0"`
		PingSec       int `yaml:"ping_sec" json:"ping_sec" default:"120" validate:"gt=0"` // Reserved.
		InactivitySec int `yaml:"inactivity_sec" json:"inactivity_sec" default:"1200" validate:"gte=0"`
	} `yaml:"timeouts" json:"timeouts"`

	Limits struct {
		MaxBlockSize  int `yaml:"max_block_size" json:"max_block_size" default:"1048576" validate:"gt=0"`
		MaxTxSize     int `yaml:"max_tx_size" json:"max_tx_size" default:"100000" validate:"gt=0,ltefield=MaxBlockSize"`
		MaxScriptSize int `yaml:"max_script_size" json:"max_script_size" default:"10000" validate:"gt=0"`
		MaxStackSize  int `yaml:"max_stack_size" json:"max_stack_size" default:"1000" validate:"gt=0"` // Reserved.
		MaxSigOps     int `yaml:"max_sig_ops" json:"max_sig_ops" default:"20000" validate:"gt=0"`      // Reserved.
		MaxInputs     int `yaml:"max_inputs" json:"max_inputs" default:"1000" validate:"gt=0"`
		MaxOutputs    int `yaml:"max_outputs" json:"max_outputs" default:"1000" validate:"gt=0"`
	} `yaml:"limits" json:"limits"`

	Mempool struct {
		Size        int    `yaml:"size" json:"size" default:"5000" validate:"gte=0"`
		ExpiryHours int    `yaml:"expiry_hours" json:"expiry_hours" default:"72" validate:"gte=0"`
		Strategy    string `yaml:"strategy" json:"strategy" default:"fee" validate:"oneof=fee priority age"`
	} `yaml:"mempool" json:"mempool"`

	Fees struct {
		Min  uint64 `yaml:"min" json:"min" default:"1000"`
		Max  uint64 `yaml:"max" json:"max" default:"100000000" validate:"gtefield=Min"`
		Rate uint64 `yaml:"rate" json:"rate" default:"1" validate:"gt=0"`
	} `yaml:"fees" json:"fees"`

	Features struct {
		EnableStats   bool `yaml:"enable_stats" json:"enable_stats"`
		EnableAsync   bool `yaml:"enable_async" json:"enable_async"`
		Broadcast     bool `yaml:"broadcast" json:"broadcast"`
		WorkerThreads int  `yaml:"worker_threads" json:"worker_threads" default:"4" validate:"gte=1,lte=256"`
		BatchSize     int  `yaml:"batch_size" json:"batch_size" default:"100" validate:"gte=1"`
		BatchRate     int  `yaml:"batch_rate" json:"batch_rate" validate:"gte=0"`
		QueueSize     int  `yaml:"queue_size" json:"queue_size" default:"10000" validate:"gte=0"`
		CacheSize     int  `yaml:"cache_size" json:"cache_size" default:"1000" validate:"gte=0"` // Reserved.
	} `yaml:"features" json:"features"`

	Recovery struct {
		MaxRetries   int  `yaml:"max_retries" json:"max_retries" default:"3" validate:"gte=1"`
		RetryDelayMS int  `yaml:"retry_delay_ms" json:"retry_delay_ms" default:"1000" validate:"gte=0"`
		TimeoutSec   int  `yaml:"timeout_sec" json:"timeout_sec" default:"30" validate:"gt=0"`
		AutoRecovery bool `yaml:"auto_recovery" json:"auto_recovery"`
	} `yaml:"recovery" json:"recovery"`

	Log struct {
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" default:"100" validate:"gt=0"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups" default:"5" validate:"gte=0"`
		MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" default:"30" validate:"gte=0"`
		Compress   bool   `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
}

// Load reads the configuration documents in order, applies the defaults
// and the environment overrides and validates the result. With no paths
// only the defaults and the environment are used.
func Load(paths ...string) (Config, error) {
	var cfg Config

	loader := configor.New(&configor.Config{
		ENVPrefix:            EnvPrefix,
		ErrorOnUnmatchedKeys: true,
	})

	if err := loader.Load(&cfg, paths...); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}

	if err := validate.Check(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// =============================================================================

// Magic returns the wire magic of the configured network.
func (c Config) Magic() uint32 {
	return wire.Magic(c.Network)
}

// BlocksPath returns the directory holding the block files.
func (c Config) BlocksPath() string {
	return filepath.Join(c.DataDir, c.Network, "blocks")
}

// Ledger returns the ledger settings.
func (c Config) Ledger(ev ledger.EventHandler) ledger.Config {
	return ledger.Config{
		MaxTxSize:      c.Limits.MaxTxSize,
		MaxScriptSize:  c.Limits.MaxScriptSize,
		MaxInputs:      c.Limits.MaxInputs,
		MaxOutputs:     c.Limits.MaxOutputs,
		MinFee:         c.Fees.Min,
		MaxFee:         c.Fees.Max,
		FeeRate:        c.Fees.Rate,
		MempoolSize:    c.Mempool.Size,
		MempoolExpiry:  time.Duration(c.Mempool.ExpiryHours) * time.Hour,
		SelectStrategy: c.Mempool.Strategy,
		Magic:          c.Magic(),
		EvHandler:      ev,
	}
}

// Worker returns the worker pool settings.
func (c Config) Worker() worker.Config {
	return worker.Config{
		EnableAsync:      c.Features.EnableAsync,
		Threads:          c.Features.WorkerThreads,
		BatchSize:        c.Features.BatchSize,
		BatchRate:        c.Features.BatchRate,
		QueueSize:        c.Features.QueueSize,
		Broadcast:        c.Features.Broadcast,
		MaxRetryAttempts: c.Recovery.MaxRetries,
		RetryDelay:       time.Duration(c.Recovery.RetryDelayMS) * time.Millisecond,
		RecoveryTimeout:  time.Duration(c.Recovery.TimeoutSec) * time.Second,
		AutoRecovery:     c.Recovery.AutoRecovery,
	}
}

// Peer returns the peer directory settings.
func (c Config) Peer(tr peer.Transport, ev peer.EventHandler) peer.Config {
	return peer.Config{
		MaxConnections:    c.Peers.MaxConnections,
		MaxInbound:        c.Peers.MaxInbound,
		MaxOutbound:       c.Peers.MaxOutbound,
		InactivityTimeout: time.Duration(c.Timeouts.InactivitySec) * time.Second,
		HandshakeTimeout:  time.Duration(c.Timeouts.HandshakeSec) * time.Second,
		Magic:             c.Magic(),
		Transport:         tr,
		EvHandler:         ev,
	}
}
