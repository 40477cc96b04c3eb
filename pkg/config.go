package veil

import (
	"github.com/jinzhu/configor"
)

type Config struct {
	Veilwallet struct {
		// Base URL of the remote Safe service (ghost keys, verification, broadcast).
		SafeURL string `default:"https://api.veilnet.example" env:"safe_url"`
		// Member IDs whose outputs this wallet watches (usually just the owner).
		Members []string
		// Threshold for the watched output set.
		Threshold int `default:"1"`
	}

	Payment struct {
		// Maximum number of inputs spendable in one transaction.
		MaxSpendingCount int `default:"256"`
		// Broadcast retry bound.
		MaxBroadcastTries int `default:"20"`
		// Backoff while waiting for unconfirmed outputs (seconds).
		OutputWaitSeconds int `default:"10"`
		// Duplicate-trace lookback window (hours). Product policy constant.
		DuplicateWindowHours int `default:"6"`
		// A withdrawal address older than this is flagged for confirmation (days).
		AgedAddressDays int `default:"30"`
		// Fiat value at or above which a transfer gets a large-amount warning.
		LargeAmountThreshold string `default:"0"`
		// Fiat value above which a first withdrawal to an address is flagged.
		FirstWithdrawThreshold string `default:"10"`
	}

	// Local signer daemon holding the kernel build/sign primitives.
	Signer struct {
		RPCHost string `default:"localhost"`
		RPCPort int    `default:"8720"`
		RPCUser string
		RPCPass string
	}

	Store struct {
		DBFile string `default:"veilwallet.db"`
	}

	WebAPI struct {
		AdminBind string `default:"localhost"`
		AdminPort string `default:"8710"`
	}

	// Rotating file loggers for bus events, keyed by name.
	Loggers map[string]LoggersConfig
}

type LoggersConfig struct {
	Path  string
	Types []string
}

func LoadConfig(confPath string) Config {
	c := Config{}
	configor.Load(&c, confPath)
	return c
}

// TestConfig returns a config for test rigs, with short waits so
// retry loops finish quickly.
func TestConfig() Config {
	c := Config{}
	c.Veilwallet.Members = []string{"owner"}
	c.Veilwallet.Threshold = 1
	c.Payment.MaxSpendingCount = 256
	c.Payment.MaxBroadcastTries = 3
	c.Payment.OutputWaitSeconds = 1
	c.Payment.DuplicateWindowHours = 6
	c.Payment.AgedAddressDays = 30
	c.Payment.FirstWithdrawThreshold = "10"
	return c
}
