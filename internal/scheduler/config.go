package scheduler

import (
	"strings"
	"time"

	appconfig "github.com/classbridge/schoolops/internal/config"
)

// Scope is one (tenant, school, academic year) partition swept per run.
type Scope struct {
	TenantID     string
	SchoolID     string
	AcademicYear string
}

// Config controls sweep cadence and batching.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	Scopes      []Scope
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
		JobTimeout:  5 * time.Minute,
		BatchSize:   100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

// ProvideConfig derives the scheduler config from app configuration.
func ProvideConfig(appCfg appconfig.Config) Config {
	return Config{
		RunInterval: appCfg.Scheduler.RunInterval,
		JobTimeout:  appCfg.Scheduler.JobTimeout,
		BatchSize:   appCfg.Scheduler.BatchSize,
		Scopes:      ParseScopes(appCfg.Scheduler.Scopes),
	}
}

// ParseScopes parses "tenant:school:year" entries, skipping malformed
// ones.
func ParseScopes(raw []string) []Scope {
	out := make([]Scope, 0, len(raw))
	for _, entry := range raw {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			continue
		}
		scope := Scope{
			TenantID:     strings.TrimSpace(parts[0]),
			SchoolID:     strings.TrimSpace(parts[1]),
			AcademicYear: strings.TrimSpace(parts[2]),
		}
		if scope.TenantID == "" || scope.SchoolID == "" || scope.AcademicYear == "" {
			continue
		}
		out = append(out, scope)
	}
	return out
}
