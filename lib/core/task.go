// Package core holds the value types shared across the job manager,
// task manager, and committer: tasks, task identifiers, and task
// manager identities.
package core

// TaskID identifies a single generated task. The job manager assigns
// TaskIDs monotonically starting at 1.
type TaskID int64

// Task is an opaque unit of work. Payload is producer-defined and
// never interpreted by the runtime.
type Task struct {
	ID      TaskID
	Payload []byte
}

// TMIdentity identifies a task manager endpoint in the form
// "addr:port", as it appears in nodes.txt and on the wire.
type TMIdentity string

// TMEndpoint is a dialable task manager location, as loaded from the
// discovery file.
type TMEndpoint struct {
	Name    string // Name is the addr:port token the endpoint was parsed from.
	Network string
	Address string
}

// Identity returns the TMIdentity of this endpoint.
func (e TMEndpoint) Identity() TMIdentity {
	return TMIdentity(e.Name)
}

// Fleet is a set of known task manager endpoints, keyed by name.
type Fleet map[string]TMEndpoint
