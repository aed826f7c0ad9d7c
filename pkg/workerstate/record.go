package workerstate

import "github.com/epsniff/runfactory/pkg/persistence"

// RecordKey identifies the single persisted worker state record.
var RecordKey = persistence.Key{Kind: "local-worker-state", ID: 32}

// record is the raw persisted form. Zero values mean "not configured".
type record struct {
	DefaultLifetime          int      `json:"default_lifetime"`
	MaxRuns                  int      `json:"max_runs"`
	FactoryProcessNamePrefix string   `json:"factory_process_name_prefix"`
	ExecuteWorkflowScript    string   `json:"execute_workflow_script"`
	ExtraArgs                []string `json:"extra_args"`
	WaitSeconds              int      `json:"wait_seconds"`
	SleepMS                  int      `json:"sleep_ms"`
	ServerWorkerJar          string   `json:"server_worker_jar"`
	JavaBinary               string   `json:"java_binary"`
	RegistryHost             string   `json:"registry_host"`
	RegistryPort             int      `json:"registry_port"`
}

// Settings holds the effective value of every setting.
type Settings struct {
	DefaultLifetime          int      `json:"defaultLifetime"`
	MaxRuns                  int      `json:"maxRuns"`
	FactoryProcessNamePrefix string   `json:"factoryProcessNamePrefix"`
	ExecuteWorkflowScript    string   `json:"executeWorkflowScript"`
	ExtraArgs                []string `json:"extraArgs"`
	WaitSeconds              int      `json:"waitSeconds"`
	SleepMS                  int      `json:"sleepMS"`
	ServerWorkerJar          string   `json:"serverWorkerJar"`
	JavaBinary               string   `json:"javaBinary"`
	// empty when no registry host is configured
	RegistryHost string `json:"registryHost,omitempty"`
	RegistryPort int    `json:"registryPort"`
}

func positiveOr(v, def int) int {
	if v < 1 {
		return def
	}
	return v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func validPort(port int) bool {
	return port >= 1 && port <= MaxPort
}

func portOr(port int) int {
	if !validPort(port) {
		return RegistryPort
	}
	return port
}

func copyArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	out := make([]string, len(args))
	copy(out, args)
	return out
}

func (r *record) effective(d Defaults) Settings {
	return Settings{
		DefaultLifetime:          positiveOr(r.DefaultLifetime, DefaultLifetime),
		MaxRuns:                  positiveOr(r.MaxRuns, DefaultMaxRuns),
		FactoryProcessNamePrefix: stringOr(r.FactoryProcessNamePrefix, DefaultPrefix),
		ExecuteWorkflowScript:    stringOr(r.ExecuteWorkflowScript, d.ExecuteWorkflowScript),
		ExtraArgs:                copyArgs(r.ExtraArgs),
		WaitSeconds:              positiveOr(r.WaitSeconds, DefaultWait),
		SleepMS:                  positiveOr(r.SleepMS, DefaultSleepMS),
		ServerWorkerJar:          stringOr(r.ServerWorkerJar, d.ServerWorkerJar),
		JavaBinary:               stringOr(r.JavaBinary, d.JavaBinary),
		RegistryHost:             r.RegistryHost,
		RegistryPort:             portOr(r.RegistryPort),
	}
}
