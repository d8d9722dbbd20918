// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the bridge service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}

// BackendConfig is the raw scheduler-backend configuration as loaded from
// the environment. Validation (template parsing, regex compilation, limit
// checks) happens at backend construction, never at runtime.
type BackendConfig struct {
	Submit     string // submit command template, must reference ${script}
	Kill       string // kill command template
	CheckAlive string // liveness query template

	JobIDRegex  string // one capture group, applied to submit stdout
	StrictJobID bool   // treat multiple matches as ambiguous

	ConcurrentJobLimit int

	// RuntimeAttributes is the JSON declaration of allowed attribute
	// names, types, and defaults.
	RuntimeAttributes string

	// TemporaryDirectory is a shell expression evaluated exactly once at
	// startup; its stdout becomes the working root for job scratch dirs.
	TemporaryDirectory string

	// Localization is the ordered list of strategy names threaded through
	// to the external localization collaborator.
	Localization []string

	// AliveEvidence selects how check-alive output is interpreted:
	// "job-id" (default), "any-output", or "exit-code".
	AliveEvidence string

	// RCFile is the exit-code sentinel filename in a job's work dir.
	RCFile string

	SubmitTimeout     time.Duration
	KillTimeout       time.Duration
	CheckAliveTimeout time.Duration
}

// LoadBackendConfig loads backend configuration from environment variables.
func LoadBackendConfig() *BackendConfig {
	return &BackendConfig{
		Submit:             GetEnv("SUBMIT_TEMPLATE", ""),
		Kill:               GetEnv("KILL_TEMPLATE", ""),
		CheckAlive:         GetEnv("CHECK_ALIVE_TEMPLATE", ""),
		JobIDRegex:         GetEnv("JOB_ID_REGEX", ""),
		StrictJobID:        GetBoolEnv("STRICT_JOB_ID", false),
		ConcurrentJobLimit: GetIntEnv("CONCURRENT_JOB_LIMIT", 100),
		RuntimeAttributes:  GetEnv("RUNTIME_ATTRIBUTES", "{}"),
		TemporaryDirectory: GetEnv("TEMP_DIR_EXPRESSION", ""),
		Localization:       GetListEnv("LOCALIZATION"),
		AliveEvidence:      GetEnv("ALIVE_EVIDENCE", "job-id"),
		RCFile:             GetEnv("RC_FILE", "rc"),
		SubmitTimeout:      GetDurationEnv("SUBMIT_TIMEOUT", time.Minute),
		KillTimeout:        GetDurationEnv("KILL_TIMEOUT", time.Minute),
		CheckAliveTimeout:  GetDurationEnv("CHECK_ALIVE_TIMEOUT", 30*time.Second),
	}
}

// RunnerConfig selects and configures the process runner.
type RunnerConfig struct {
	Kind  string   // "local" (default) or "docker"
	Shell string   // shell for command execution
	Image string   // scheduler client-tools image (docker runner)
	Binds []string // host mounts (docker runner)
}

// LoadRunnerConfig loads runner configuration from environment variables.
func LoadRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Kind:  GetEnv("RUNNER", "local"),
		Shell: GetEnv("RUNNER_SHELL", "/bin/sh"),
		Image: GetEnv("RUNNER_IMAGE", ""),
		Binds: GetListEnv("RUNNER_BINDS"),
	}
}
