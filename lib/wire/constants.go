package wire

// Message types and status codes shared by the job manager, committer,
// and task manager builds. They must remain identical across both
// binaries since they are the only thing that makes the wire protocol
// self-describing.
const (
	MsgTerminate  int64 = 0
	MsgSendTask   int64 = 1
	MsgReadResult int64 = 2

	// MsgReadEmpty is written by a task manager in place of a taskid to
	// signal early end-of-stream during a result pull.
	MsgReadEmpty int64 = -1

	ResModuleError  int64 = -1
	ResModuleNoAns  int64 = -2
	ResModuleCtxErr int64 = -3
)

// DefaultMaxPayloadBytes bounds a single frame's declared size. A
// client that claims a larger payload is committing a protocol
// violation, not asking for a big allocation.
const DefaultMaxPayloadBytes int64 = 64 * 1024 * 1024
