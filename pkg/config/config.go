// Copyright 2025 Procura Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration management for Procura.
//
// Configuration covers:
//   - The purchase strategy and its parameters
//   - Coverage target and the hard coverage cap
//   - Per-category plan enablement and portfolio mix
//   - Queue, notification, and cross-account settings
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Uses Viper for robust configuration management with automatic
// env binding. Every rejection rule is enforced at load time, before any
// AWS I/O happens.
package config

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nextdoor/procura/pkg/plan"
)

// QueueMode selects how the scheduler writes to the intent queue.
type QueueMode string

const (
	// QueueModeReplace purges the queue before enqueueing, so each scheduler
	// run supersedes the previous one.
	QueueModeReplace QueueMode = "replace"

	// QueueModeAppend enqueues without purging, keeping prior intents that
	// are still under review.
	QueueModeAppend QueueMode = "append"
)

// Config represents the complete Procura configuration.
type Config struct {
	// AccountID is the 12-digit AWS account purchases are made in. Optional;
	// used for session naming and resource tags.
	AccountID string `yaml:"accountId,omitempty"`

	// AssumeRoleARN is the IAM role to assume for coverage, recommendation,
	// and purchase API calls. When empty, the ambient credential chain is
	// used. Queue and notification clients always use the ambient identity;
	// they live in the local account.
	AssumeRoleARN string `yaml:"assumeRoleArn,omitempty"`

	// DefaultRegion is the AWS region for API calls. Cost Explorer is always
	// pinned to us-east-1 regardless of this setting.
	DefaultRegion string `yaml:"defaultRegion,omitempty"`

	// QueueURL is the SQS queue holding purchase intents under review.
	QueueURL string `yaml:"queueUrl"`

	// QueueMode selects replace or append semantics for scheduler runs.
	QueueMode QueueMode `yaml:"queueMode,omitempty"`

	// TopicARN is the SNS topic for run notifications. When empty,
	// notifications are skipped and only logged.
	TopicARN string `yaml:"topicArn,omitempty"`

	// Strategy selects and parameterizes the purchase strategy.
	Strategy StrategyConfig `yaml:"strategy,omitempty"`

	// CoverageTargetPercent is the coverage level the system steers toward.
	CoverageTargetPercent float64 `yaml:"coverageTargetPercent,omitempty"`

	// MaxCoverageCapPercent is the hard ceiling on coverage. Re-validated
	// per intent at execution time. Must be >= CoverageTargetPercent.
	MaxCoverageCapPercent float64 `yaml:"maxCoverageCapPercent,omitempty"`

	// LookbackDays is the usage window the vendor recommendation engine
	// analyzes. The vendor only accepts 7, 30, or 60.
	LookbackDays int `yaml:"lookbackDays,omitempty"`

	// MinDataDays is the minimum usage history required before trusting a
	// recommendation. Must not exceed LookbackDays.
	MinDataDays int `yaml:"minDataDays,omitempty"`

	// RenewalWindowDays is the lookahead during which soon-to-expire plans
	// are treated as already expired for coverage purposes.
	RenewalWindowDays int `yaml:"renewalWindowDays,omitempty"`

	// Plans configures each Savings Plans category. Keyed by category name.
	Plans map[string]PlanConfig `yaml:"plans,omitempty"`

	// DryRun makes scheduler runs decide and notify without enqueueing.
	DryRun bool `yaml:"dryRun,omitempty"`

	// SendNoAction sends an informational notification when a scheduler run
	// queues nothing.
	SendNoAction bool `yaml:"sendNoAction,omitempty"`

	// NotifyOnError sends an error notification before a run surfaces a
	// fatal error.
	NotifyOnError bool `yaml:"notifyOnError,omitempty"`

	// PurchaseBatchSize is the maximum messages a purchaser run drains.
	// SQS allows at most 10 per receive.
	PurchaseBatchSize int `yaml:"purchaseBatchSize,omitempty"`

	// WallClockDeadlineSeconds bounds a whole run. On expiry, in-flight work
	// is abandoned and partial results notify.
	WallClockDeadlineSeconds int `yaml:"wallClockDeadlineSeconds,omitempty"`

	// APITimeoutSeconds bounds each outbound API call.
	APITimeoutSeconds int `yaml:"apiTimeoutSeconds,omitempty"`

	// MinFragmentHourly is the smallest hourly commitment a split fragment
	// may carry; smaller fragments are folded into the largest one.
	MinFragmentHourly float64 `yaml:"minFragmentHourly,omitempty"`

	// SchedulerInterval and PurchaserInterval drive serve mode timers.
	// Format: Go duration string. Ignored in single-run mode.
	SchedulerInterval string `yaml:"schedulerInterval,omitempty"`
	PurchaserInterval string `yaml:"purchaserInterval,omitempty"`

	// LogLevel controls log verbosity: debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	// MetricsBindAddress is the address the metrics endpoint binds to.
	MetricsBindAddress string `yaml:"metricsBindAddress,omitempty"`

	// HealthProbeBindAddress is the address the health probes bind to.
	HealthProbeBindAddress string `yaml:"healthProbeBindAddress,omitempty"`
}

// StrategyConfig is a tagged strategy variant. Only the parameter block
// matching Variant is consulted.
type StrategyConfig struct {
	// Variant is one of "fixed", "dichotomy", or "conservative".
	Variant string `yaml:"variant,omitempty"`

	Fixed        FixedStrategyConfig        `yaml:"fixed,omitempty"`
	Dichotomy    DichotomyStrategyConfig    `yaml:"dichotomy,omitempty"`
	Conservative ConservativeStrategyConfig `yaml:"conservative,omitempty"`
}

// FixedStrategyConfig buys a fixed fraction of every recommendation.
type FixedStrategyConfig struct {
	// MaxPurchasePercent is the fraction of the recommended hourly
	// commitment to buy, in (0,100].
	MaxPurchasePercent float64 `yaml:"maxPurchasePercent,omitempty"`
}

// DichotomyStrategyConfig halves the purchase fraction until the projected
// coverage no longer overshoots the target.
type DichotomyStrategyConfig struct {
	MaxPurchasePercent float64 `yaml:"maxPurchasePercent,omitempty"`

	// MinPurchasePercent is the floor the fraction is clamped to, in
	// (0, MaxPurchasePercent].
	MinPurchasePercent float64 `yaml:"minPurchasePercent,omitempty"`
}

// ConservativeStrategyConfig skips purchases while the coverage gap is small.
type ConservativeStrategyConfig struct {
	// MinGapThreshold is the coverage gap (target - current, in percentage
	// points) below which no purchase happens, in [0,100].
	MinGapThreshold float64 `yaml:"minGapThreshold,omitempty"`

	MaxPurchasePercent float64 `yaml:"maxPurchasePercent,omitempty"`
}

// PlanConfig configures one Savings Plans category.
type PlanConfig struct {
	// Enabled turns purchasing on for this category.
	Enabled bool `yaml:"enabled"`

	// Mix maps "term/payment-option" keys (e.g. "3-year/no-upfront") to
	// weights in [0,1]. Weights must sum to 1 within 1e-6, and every pair
	// must be sold for the category.
	Mix map[string]float64 `yaml:"mix,omitempty"`

	// PartialUpfrontPercent is the upfront share for partial-upfront
	// fragments, in (0,100). Defaults to 50.
	PartialUpfrontPercent float64 `yaml:"partialUpfrontPercent,omitempty"`
}

// MixKey identifies one (term, payment option) slot of a portfolio mix.
type MixKey struct {
	Term    plan.Term
	Payment plan.PaymentOption
}

// mixWeightTolerance is the accepted deviation of a mix weight sum from 1.
const mixWeightTolerance = 1e-6

// Load loads configuration from a YAML file and validates it.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PROCURA_* prefix)
//  2. Configuration file values
//  3. Default values
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("defaultRegion", DefaultRegion)
	v.SetDefault("queueMode", string(QueueModeReplace))
	v.SetDefault("strategy.variant", "fixed")
	v.SetDefault("strategy.fixed.maxPurchasePercent", 10.0)
	v.SetDefault("coverageTargetPercent", 80.0)
	v.SetDefault("maxCoverageCapPercent", 90.0)
	v.SetDefault("lookbackDays", 30)
	v.SetDefault("minDataDays", 14)
	v.SetDefault("renewalWindowDays", 30)
	v.SetDefault("notifyOnError", true)
	v.SetDefault("purchaseBatchSize", DefaultPurchaseBatchSize)
	v.SetDefault("wallClockDeadlineSeconds", 600)
	v.SetDefault("apiTimeoutSeconds", 30)
	v.SetDefault("minFragmentHourly", DefaultMinFragmentHourly)
	v.SetDefault("schedulerInterval", "720h")
	v.SetDefault("purchaserInterval", "96h")
	v.SetDefault("logLevel", "info")
	v.SetDefault("metricsBindAddress", ":8080")
	v.SetDefault("healthProbeBindAddress", ":8081")

	// Enable environment variable overrides with PROCURA_ prefix.
	// Manually bind each config key to its environment variable; Viper's
	// automatic mapping doesn't handle camelCase to SCREAMING_SNAKE_CASE well.
	v.SetEnvPrefix("PROCURA")
	_ = v.BindEnv("accountId", "PROCURA_ACCOUNT_ID")
	_ = v.BindEnv("assumeRoleArn", "PROCURA_ASSUME_ROLE_ARN")
	_ = v.BindEnv("defaultRegion", "PROCURA_DEFAULT_REGION")
	_ = v.BindEnv("queueUrl", "PROCURA_QUEUE_URL")
	_ = v.BindEnv("queueMode", "PROCURA_QUEUE_MODE")
	_ = v.BindEnv("topicArn", "PROCURA_TOPIC_ARN")
	_ = v.BindEnv("dryRun", "PROCURA_DRY_RUN")
	_ = v.BindEnv("logLevel", "PROCURA_LOG_LEVEL")
	_ = v.BindEnv("metricsBindAddress", "PROCURA_METRICS_BIND_ADDRESS")
	_ = v.BindEnv("healthProbeBindAddress", "PROCURA_HEALTH_PROBE_BIND_ADDRESS")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	// coverage:ignore - Viper unmarshal errors are extremely rare and difficult to trigger
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Maps don't take viper defaults well; fill in the default portfolio
	// after unmarshalling.
	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}
	for name, pc := range cfg.Plans {
		if pc.PartialUpfrontPercent == 0 {
			pc.PartialUpfrontPercent = DefaultPartialUpfrontPercent
			cfg.Plans[name] = pc
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.AccountID != "" && !isValidAccountID(c.AccountID) {
		return fmt.Errorf("invalid account ID %q: must be 12 digits", c.AccountID)
	}
	if c.AssumeRoleARN != "" && !isValidIAMRoleARN(c.AssumeRoleARN) {
		return fmt.Errorf(
			"invalid AssumeRole ARN %q: must be in format arn:aws:iam::ACCOUNT_ID:role/ROLE_NAME",
			c.AssumeRoleARN,
		)
	}

	if strings.TrimSpace(c.QueueURL) == "" {
		return fmt.Errorf("queueUrl is required")
	}
	switch c.QueueMode {
	case QueueModeReplace, QueueModeAppend:
	default:
		return fmt.Errorf("invalid queueMode %q, must be one of: replace, append", c.QueueMode)
	}
	if c.TopicARN != "" && !isValidSNSTopicARN(c.TopicARN) {
		return fmt.Errorf("invalid topic ARN %q", c.TopicARN)
	}

	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}

	if c.CoverageTargetPercent < 0 || c.CoverageTargetPercent > 100 {
		return fmt.Errorf("coverageTargetPercent %.2f out of range [0,100]", c.CoverageTargetPercent)
	}
	if c.MaxCoverageCapPercent < c.CoverageTargetPercent || c.MaxCoverageCapPercent > 100 {
		return fmt.Errorf("maxCoverageCapPercent %.2f out of range [%.2f,100]",
			c.MaxCoverageCapPercent, c.CoverageTargetPercent)
	}

	switch c.LookbackDays {
	case 7, 30, 60:
	default:
		return fmt.Errorf("lookbackDays %d not supported by the vendor, must be 7, 30, or 60", c.LookbackDays)
	}
	if c.MinDataDays <= 0 {
		return fmt.Errorf("minDataDays must be positive, got %d", c.MinDataDays)
	}
	if c.MinDataDays > c.LookbackDays {
		return fmt.Errorf("minDataDays %d exceeds lookbackDays %d", c.MinDataDays, c.LookbackDays)
	}
	if c.RenewalWindowDays < 0 {
		return fmt.Errorf("renewalWindowDays must not be negative, got %d", c.RenewalWindowDays)
	}

	for name, pc := range c.Plans {
		category, err := plan.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("invalid plan category %q", name)
		}
		if err := pc.Validate(category); err != nil {
			return fmt.Errorf("invalid plan config for %s: %w", name, err)
		}
	}

	if c.PurchaseBatchSize < 1 || c.PurchaseBatchSize > 10 {
		return fmt.Errorf("purchaseBatchSize %d out of range [1,10]", c.PurchaseBatchSize)
	}
	if c.WallClockDeadlineSeconds <= 0 {
		return fmt.Errorf("wallClockDeadlineSeconds must be positive, got %d", c.WallClockDeadlineSeconds)
	}
	if c.APITimeoutSeconds <= 0 {
		return fmt.Errorf("apiTimeoutSeconds must be positive, got %d", c.APITimeoutSeconds)
	}
	if c.MinFragmentHourly < 0 {
		return fmt.Errorf("minFragmentHourly must not be negative, got %f", c.MinFragmentHourly)
	}

	for _, interval := range []struct{ name, value string }{
		{"schedulerInterval", c.SchedulerInterval},
		{"purchaserInterval", c.PurchaserInterval},
	} {
		if interval.value == "" {
			continue
		}
		if _, err := time.ParseDuration(interval.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", interval.name, interval.value, err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	return nil
}

// Validate checks the strategy variant and its parameter block.
func (s *StrategyConfig) Validate() error {
	switch s.Variant {
	case "fixed":
		if s.Fixed.MaxPurchasePercent <= 0 || s.Fixed.MaxPurchasePercent > 100 {
			return fmt.Errorf("fixed.maxPurchasePercent %.2f out of range (0,100]", s.Fixed.MaxPurchasePercent)
		}
	case "dichotomy":
		if s.Dichotomy.MaxPurchasePercent <= 0 || s.Dichotomy.MaxPurchasePercent > 100 {
			return fmt.Errorf("dichotomy.maxPurchasePercent %.2f out of range (0,100]", s.Dichotomy.MaxPurchasePercent)
		}
		if s.Dichotomy.MinPurchasePercent <= 0 || s.Dichotomy.MinPurchasePercent > s.Dichotomy.MaxPurchasePercent {
			return fmt.Errorf("dichotomy.minPurchasePercent %.2f out of range (0,%.2f]",
				s.Dichotomy.MinPurchasePercent, s.Dichotomy.MaxPurchasePercent)
		}
	case "conservative":
		if s.Conservative.MinGapThreshold < 0 || s.Conservative.MinGapThreshold > 100 {
			return fmt.Errorf("conservative.minGapThreshold %.2f out of range [0,100]", s.Conservative.MinGapThreshold)
		}
		if s.Conservative.MaxPurchasePercent <= 0 || s.Conservative.MaxPurchasePercent > 100 {
			return fmt.Errorf("conservative.maxPurchasePercent %.2f out of range (0,100]", s.Conservative.MaxPurchasePercent)
		}
	default:
		return fmt.Errorf("unknown variant %q, must be one of: fixed, dichotomy, conservative", s.Variant)
	}
	return nil
}

// Validate checks a category's plan configuration against the vendor
// constraint table. A disabled category still gets its mix validated so a
// broken config can't hide behind enablement.
func (p *PlanConfig) Validate(category plan.Category) error {
	if p.Enabled && len(p.Mix) == 0 {
		return fmt.Errorf("enabled category has no portfolio mix")
	}
	if p.PartialUpfrontPercent < 0 || p.PartialUpfrontPercent >= 100 {
		return fmt.Errorf("partialUpfrontPercent %.2f out of range [0,100)", p.PartialUpfrontPercent)
	}

	var sum float64
	for key, weight := range p.Mix {
		mk, err := ParseMixKey(key)
		if err != nil {
			return err
		}
		if !category.Allows(mk.Term, mk.Payment) {
			return fmt.Errorf("mix entry %q is not sold for category %s", key, category)
		}
		if weight < 0 || weight > 1 {
			return fmt.Errorf("mix weight %.6f for %q out of range [0,1]", weight, key)
		}
		sum += weight
	}
	if len(p.Mix) > 0 && math.Abs(sum-1.0) > mixWeightTolerance {
		return fmt.Errorf("mix weights sum to %.6f, must sum to 1.0", sum)
	}
	return nil
}

// ParseMixKey parses a "term/payment-option" mix key.
func ParseMixKey(key string) (MixKey, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return MixKey{}, fmt.Errorf("invalid mix key %q, expected \"term/payment-option\"", key)
	}
	term, err := plan.ParseTerm(parts[0])
	if err != nil {
		return MixKey{}, fmt.Errorf("invalid mix key %q: %w", key, err)
	}
	payment, err := plan.ParsePaymentOption(parts[1])
	if err != nil {
		return MixKey{}, fmt.Errorf("invalid mix key %q: %w", key, err)
	}
	return MixKey{Term: term, Payment: payment}, nil
}

// ParsedMix returns the portfolio mix keyed by MixKey. Configuration is
// validated at load, so parse failures here are programming errors.
func (p *PlanConfig) ParsedMix() map[MixKey]float64 {
	out := make(map[MixKey]float64, len(p.Mix))
	for key, weight := range p.Mix {
		mk, err := ParseMixKey(key)
		if err != nil {
			continue
		}
		out[mk] = weight
	}
	return out
}

// EnabledCategories returns the enabled categories in deterministic order.
func (c *Config) EnabledCategories() []plan.Category {
	var out []plan.Category
	for _, category := range plan.AllCategories {
		if pc, ok := c.Plans[string(category)]; ok && pc.Enabled {
			out = append(out, category)
		}
	}
	return out
}

// PlanFor returns the plan configuration for a category.
func (c *Config) PlanFor(category plan.Category) PlanConfig {
	return c.Plans[string(category)]
}

// SortedMixKeys returns the mix keys of a plan config sorted by term then
// payment option, the canonical iteration order for splitting and
// coalescing.
func SortedMixKeys(mix map[MixKey]float64) []MixKey {
	keys := make([]MixKey, 0, len(mix))
	for k := range mix {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Term != keys[j].Term {
			return keys[i].Term < keys[j].Term
		}
		return keys[i].Payment < keys[j].Payment
	})
	return keys
}

// GetAPITimeout returns the per-call timeout for outbound API calls.
func (c *Config) GetAPITimeout() time.Duration {
	if c.APITimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

// GetWallClockDeadline returns the whole-run deadline.
func (c *Config) GetWallClockDeadline() time.Duration {
	if c.WallClockDeadlineSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.WallClockDeadlineSeconds) * time.Second
}

// GetSchedulerInterval returns the serve-mode scheduler cadence.
func (c *Config) GetSchedulerInterval() time.Duration {
	return parseDurationOr(c.SchedulerInterval, 720*time.Hour)
}

// GetPurchaserInterval returns the serve-mode purchaser cadence.
func (c *Config) GetPurchaserInterval() time.Duration {
	return parseDurationOr(c.PurchaserInterval, 96*time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		// Should never happen since Validate() checks this
		return fallback
	}
	return d
}

// isValidAccountID checks if a string is a valid 12-digit AWS account ID.
func isValidAccountID(accountID string) bool {
	matched, _ := regexp.MatchString(`^\d{12}$`, accountID)
	return matched
}

// isValidIAMRoleARN checks if a string is a valid IAM role ARN.
// Valid format: arn:aws:iam::123456789012:role/RoleName
// Also accepts: arn:aws-us-gov:iam::... for GovCloud
func isValidIAMRoleARN(arn string) bool {
	matched, _ := regexp.MatchString(`^arn:(aws|aws-us-gov|aws-cn):iam::\d{12}:role/[a-zA-Z0-9+=,.@\-_/]+$`, arn)
	return matched
}

// isValidSNSTopicARN checks if a string is a valid SNS topic ARN.
func isValidSNSTopicARN(arn string) bool {
	matched, _ := regexp.MatchString(`^arn:(aws|aws-us-gov|aws-cn):sns:[a-z0-9-]+:\d{12}:[a-zA-Z0-9_.-]+$`, arn)
	return matched
}
