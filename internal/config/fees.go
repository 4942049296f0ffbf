package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FeePolicy controls how a booking's base price is split between the
// merchant payout, the platform fee and the processing fee. All rates are
// expressed in basis points, fixed parts in minor currency units.
type FeePolicy struct {
	PlatformFeeBps     int64 `mapstructure:"platformFeeBps"`
	ProcessingFeeBps   int64 `mapstructure:"processingFeeBps"`
	ProcessingFeeFixed int64 `mapstructure:"processingFeeFixed"`
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PlatformFeeBps:     1000, // 10%
		ProcessingFeeBps:   290,  // 2.9%
		ProcessingFeeFixed: 30,
	}
}

// FeePolicyHolder keeps the active fee policy behind an atomic.Value so
// checkout reads a consistent snapshot while the file is hot-reloaded.
type FeePolicyHolder struct {
	current atomic.Value // holds FeePolicy
}

func NewFeePolicyHolder() (*FeePolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/bookline/config")
	v.AddConfigPath("/etc/bookline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOOKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultFeePolicy()
		v.SetDefault("fees.platformFeeBps", defaults.PlatformFeeBps)
		v.SetDefault("fees.processingFeeBps", defaults.ProcessingFeeBps)
		v.SetDefault("fees.processingFeeFixed", defaults.ProcessingFeeFixed)
	}

	var policy FeePolicy
	if err := v.UnmarshalKey("fees", &policy); err != nil {
		return nil, err
	}
	if err := validateFeePolicy(policy); err != nil {
		return nil, err
	}

	holder := &FeePolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeePolicy
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Printf("[fee-policy] reload failed: %v", err)
			return
		}
		if err := validateFeePolicy(updated); err != nil {
			log.Printf("[fee-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fee-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *FeePolicyHolder) Get() FeePolicy {
	return h.current.Load().(FeePolicy)
}

// NewStaticFeePolicyHolder returns a holder pinned to the given policy.
// Used by tests and by callers that do not want file watching.
func NewStaticFeePolicyHolder(policy FeePolicy) *FeePolicyHolder {
	holder := &FeePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func validateFeePolicy(policy FeePolicy) error {
	if policy.PlatformFeeBps < 0 || policy.PlatformFeeBps >= 10000 {
		return errors.New("fees.platformFeeBps out of range")
	}
	if policy.ProcessingFeeBps < 0 || policy.ProcessingFeeBps >= 10000 {
		return errors.New("fees.processingFeeBps out of range")
	}
	if policy.ProcessingFeeFixed < 0 {
		return errors.New("fees.processingFeeFixed cannot be negative")
	}
	return nil
}
