//go:build linux

package logrelay

import (
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Environment variables the sink shares with the supervisor's networking
// runtime.
const (
	envListenerPort  = "LIBPROCESS_PORT"
	envAdvertisePort = "LIBPROCESS_ADVERTISE_PORT"
	envWorkerThreads = "LIBPROCESS_NUM_WORKER_THREADS"
	envLibraryPath   = "LD_LIBRARY_PATH"
	envNativeLibrary = "MESOS_NATIVE_LIBRARY"
)

// ComposeEnvironment derives the sink environment from the supervisor's
// environment. base is not modified.
//
// The listener port variables are dropped: the sink links the same networking
// runtime as the supervisor and would otherwise try to bind the supervisor's
// port. LD_LIBRARY_PATH is synthesized from the directory of
// MESOS_NATIVE_LIBRARY when only the latter is set.
//
// workerThreads must be positive; ComposeEnvironment panics otherwise.
func ComposeEnvironment(base map[string]string, workerThreads int) map[string]string {
	if workerThreads <= 0 {
		panic("logrelay: worker thread count must be positive, got " + strconv.Itoa(workerThreads))
	}

	env := make(map[string]string, len(base)+2)
	maps.Copy(env, base)

	delete(env, envListenerPort)
	delete(env, envAdvertisePort)

	if _, ok := env[envLibraryPath]; !ok {
		if native, ok := env[envNativeLibrary]; ok {
			env[envLibraryPath] = filepath.Dir(native)
		}
	}

	env[envWorkerThreads] = strconv.Itoa(workerThreads)

	return env
}

// EnvironFromOS returns a snapshot of the current process environment.
func EnvironFromOS() map[string]string {
	return environToMap(os.Environ())
}

func environToMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		env[key] = value
	}

	return env
}

// EnvironSlice converts env to a KEY=VALUE slice sorted by key.
//
// Sorting keeps the sink's environment stable between calls and makes debug
// output readable.
func EnvironSlice(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}

	return out
}
