package module

import "sync"

var (
	registryMu sync.Mutex
	registry   = make(map[string]Job)
)

// Register makes a Job available under "inprocess:<name>". Intended
// for job modules compiled into the same binary as the runtime (the
// bundled example job, and test fixtures), never for production
// deployments where modules are separately-built .so plugins.
func Register(name string, job Job) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = job
}

// Lookup retrieves a previously Registered Job.
func Lookup(name string) (Job, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	job, ok := registry[name]
	return job, ok
}
