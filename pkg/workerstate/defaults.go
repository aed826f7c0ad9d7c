package workerstate

import (
	"os"
	"os/exec"
	"path/filepath"
)

// SubprocessImplementationJar is the resource, relative to the resource
// directory, that implements the worker subprocess.
const SubprocessImplementationJar = "util/server.worker.jar"

const (
	DefaultLifetime = 20
	DefaultMaxRuns  = 5
	DefaultPrefix   = "ForkRunFactory."
	DefaultWait     = 40
	DefaultSleepMS  = 1000
	// RegistryPort is the well known RMI registry port.
	RegistryPort = 1099
	MaxPort      = 65534
)

const (
	envJavaHome        = "JAVA_HOME"
	envResourceDir     = "RUNFACTORY_RESOURCE_DIR"
	envExecuteWorkflow = "RUNFACTORY_EXECUTE_WORKFLOW_SCRIPT"

	executeWorkflowScriptName = "executeWorkflow.sh"
)

// Defaults are the environment derived fallbacks for the path valued settings.
// They are resolved once at startup and never change afterwards.
type Defaults struct {
	ResourceDir           string
	ExecuteWorkflowScript string
	ServerWorkerJar       string
	JavaBinary            string
}

// DefaultsFromEnv resolves Defaults from the process environment.
func DefaultsFromEnv() Defaults {
	return defaultsFrom(os.Getenv, exec.LookPath, os.Executable)
}

func defaultsFrom(getenv func(string) string, lookPath func(string) (string, error), executable func() (string, error)) Defaults {
	resourceDir := getenv(envResourceDir)
	if resourceDir == "" {
		resourceDir = "."
		if exe, err := executable(); err == nil {
			resourceDir = filepath.Dir(exe)
		}
	}

	script := getenv(envExecuteWorkflow)
	if script == "" {
		script = filepath.Join(resourceDir, executeWorkflowScriptName)
	}

	javaBinary := "java"
	if home := getenv(envJavaHome); home != "" {
		javaBinary = filepath.Join(home, "bin", "java")
	} else if p, err := lookPath("java"); err == nil {
		javaBinary = p
	}

	return Defaults{
		ResourceDir:           resourceDir,
		ExecuteWorkflowScript: script,
		ServerWorkerJar:       filepath.Join(resourceDir, filepath.FromSlash(SubprocessImplementationJar)),
		JavaBinary:            javaBinary,
	}
}
