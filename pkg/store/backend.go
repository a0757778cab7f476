package store

// Mode names the consistency mode a backend provides. It is surfaced to
// clients (healthz, session_ready) so callers always know whether they are
// talking to durable or volatile storage.
type Mode string

const (
	ModeDurable  Mode = "durable"
	ModeVolatile Mode = "volatile"
)

// Backend is the narrow storage contract the message log runs on. The
// implementation is chosen once at startup and injected; it is never
// switched per-call.
//
// Messages are opaque encoded values keyed by (conversation id, sequence).
// List returns values in ascending sequence order; a positive limit returns
// the most recent page, still ascending.
type Backend interface {
	Mode() Mode
	Ready() bool
	Append(convID string, seq uint64, data []byte) error
	Replace(convID string, seq uint64, data []byte) error
	Delete(convID string, seq uint64) error
	List(convID string, limit int) ([][]byte, error)
	LastSeq(convID string) (uint64, error)
	Conversations() ([]string, error)
	Close() error
}
