package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	SweepModePendingOnly          = "pending_only"
	SweepModePendingAndPaymentURL = "pending_and_payment_url"
)

// Policy carries the operational knobs that may change without a restart.
type Policy struct {
	OTP   OTPPolicy   `mapstructure:"otp"`
	Sweep SweepPolicy `mapstructure:"sweep"`
}

type OTPPolicy struct {
	ResendCooldownSeconds int              `mapstructure:"resendCooldownSeconds"`
	FailWindowSeconds     int              `mapstructure:"failWindowSeconds"`
	Escalation            []EscalationStep `mapstructure:"escalation"`
}

// EscalationStep moves a challenge from Level to Level+1 once the fail
// counter reaches FailThreshold, blocking verification for BlockSeconds.
type EscalationStep struct {
	Level         int `mapstructure:"level"`
	FailThreshold int `mapstructure:"failThreshold"`
	BlockSeconds  int `mapstructure:"blockSeconds"`
}

type SweepPolicy struct {
	Mode      string `mapstructure:"mode"`
	BatchSize int    `mapstructure:"batchSize"`
}

func (p OTPPolicy) ResendCooldown() time.Duration {
	return time.Duration(p.ResendCooldownSeconds) * time.Second
}

func (p OTPPolicy) FailWindow() time.Duration {
	return time.Duration(p.FailWindowSeconds) * time.Second
}

// IncludesPaymentURL reports whether PAYMENT_URL bookings are sweepable.
func (p SweepPolicy) IncludesPaymentURL() bool {
	return p.Mode != SweepModePendingOnly
}

func DefaultPolicy() Policy {
	return Policy{
		OTP: OTPPolicy{
			ResendCooldownSeconds: 60,
			FailWindowSeconds:     3600,
			Escalation: []EscalationStep{
				{Level: 0, FailThreshold: 5, BlockSeconds: 60},
				{Level: 1, FailThreshold: 6, BlockSeconds: 120},
				{Level: 2, FailThreshold: 7, BlockSeconds: 900},
			},
		},
		Sweep: SweepPolicy{
			Mode:      SweepModePendingAndPaymentURL,
			BatchSize: 200,
		},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyFile != "" {
		v.SetConfigFile(cfg.PolicyFile)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/staybook")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STAYBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("policy.otp.resendCooldownSeconds", defaults.OTP.ResendCooldownSeconds)
	v.SetDefault("policy.otp.failWindowSeconds", defaults.OTP.FailWindowSeconds)
	v.SetDefault("policy.otp.escalation", defaults.OTP.Escalation)
	v.SetDefault("policy.sweep.mode", defaults.Sweep.Mode)
	v.SetDefault("policy.sweep.batchSize", defaults.Sweep.BatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.PolicyFile != "" {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	log = log.Named("config.policy")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("policy.reload.rejected", zap.String("file", filepath.Base(e.Name)), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy.reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	return h.current.Load().(Policy)
}

func (h *PolicyHolder) OTP() OTPPolicy {
	return h.Get().OTP
}

func (h *PolicyHolder) Sweep() SweepPolicy {
	return h.Get().Sweep
}

func decodePolicy(v *viper.Viper) (Policy, error) {
	var p Policy
	if err := v.UnmarshalKey("policy", &p); err != nil {
		return Policy{}, err
	}
	p.Sweep.Mode = strings.ToLower(strings.TrimSpace(p.Sweep.Mode))
	sort.Slice(p.OTP.Escalation, func(i, j int) bool {
		return p.OTP.Escalation[i].Level < p.OTP.Escalation[j].Level
	})
	if err := ValidatePolicy(p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func ValidatePolicy(p Policy) error {
	if p.OTP.ResendCooldownSeconds < 0 {
		return errors.New("policy.otp.resendCooldownSeconds must not be negative")
	}
	if p.OTP.FailWindowSeconds <= 0 {
		return errors.New("policy.otp.failWindowSeconds must be positive")
	}
	if len(p.OTP.Escalation) == 0 {
		return errors.New("policy.otp.escalation cannot be empty")
	}
	for i, step := range p.OTP.Escalation {
		if step.Level != i {
			return fmt.Errorf("policy.otp.escalation[%d]: levels must be contiguous from 0", i)
		}
		if step.FailThreshold <= 0 || step.BlockSeconds <= 0 {
			return fmt.Errorf("policy.otp.escalation[%d]: threshold and block must be positive", i)
		}
	}
	switch p.Sweep.Mode {
	case SweepModePendingOnly, SweepModePendingAndPaymentURL:
	default:
		return fmt.Errorf("policy.sweep.mode %q is not supported", p.Sweep.Mode)
	}
	if p.Sweep.BatchSize <= 0 {
		return errors.New("policy.sweep.batchSize must be positive")
	}
	return nil
}
