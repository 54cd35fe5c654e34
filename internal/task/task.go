package task

import (
	"strings"
)

// BaseLocation selects the root directory a task's file is written under.
// The ordinal values are part of the persisted record layout.
type BaseLocation int

const (
	LocationDocuments BaseLocation = iota
	LocationTemporary
	LocationSupport
)

// UpdatePolicy controls which event kinds are emitted for a task.
// The ordinal values are part of the persisted record layout.
type UpdatePolicy int

const (
	UpdatesNone UpdatePolicy = iota
	UpdatesStatusOnly
	UpdatesProgressOnly
	UpdatesBoth
)

// WantsStatus reports whether status events are emitted under p.
func (p UpdatePolicy) WantsStatus() bool {
	return p == UpdatesStatusOnly || p == UpdatesBoth
}

// WantsProgress reports whether progress events are emitted under p.
func (p UpdatePolicy) WantsProgress() bool {
	return p == UpdatesProgressOnly || p == UpdatesBoth
}

// DefaultGroup is the callback-routing group used when none is given.
const DefaultGroup = "default"

// Task is a resumable file-transfer unit of work: a Request plus its
// destination, grouping and notification preferences. ID is the sole
// identity key and is immutable for the task's lifetime; filename and
// directory are validated once here and never revalidated.
type Task struct {
	Request

	ID                string
	Filename          string
	Directory         string
	BaseLocation      BaseLocation
	Group             string
	Updates           UpdatePolicy
	RequiresUnmetered bool
	// Metadata is opaque to the core and echoed back in events.
	Metadata string
}

// Options carries every field needed to construct a Task. ID must be
// filled by the caller; services generate one through idgen when the
// client did not supply its own.
type Options struct {
	ID      string
	URL     string
	Params  map[string]string
	Headers map[string]string
	Body    any
	Retries int

	Filename          string
	Directory         string
	BaseLocation      BaseLocation
	Group             string
	Updates           UpdatePolicy
	RequiresUnmetered bool
	Metadata          string
}

// New is the single validation gate for tasks. Every invariant is checked
// here; a constructed Task is never revalidated.
func New(opts Options) (*Task, error) {
	if strings.TrimSpace(opts.ID) == "" {
		return nil, invalid("taskId", "must not be empty")
	}
	req, err := NewRequest(opts.URL, opts.Params, opts.Headers, opts.Body, opts.Retries)
	if err != nil {
		return nil, err
	}
	if err := validateDestination(opts.Filename, opts.Directory); err != nil {
		return nil, err
	}
	if err := validateLocation(opts.BaseLocation); err != nil {
		return nil, err
	}
	if err := validatePolicy(opts.Updates); err != nil {
		return nil, err
	}
	group := opts.Group
	if group == "" {
		group = DefaultGroup
	}
	return &Task{
		Request:           req,
		ID:                opts.ID,
		Filename:          opts.Filename,
		Directory:         opts.Directory,
		BaseLocation:      opts.BaseLocation,
		Group:             group,
		Updates:           opts.Updates,
		RequiresUnmetered: opts.RequiresUnmetered,
		Metadata:          opts.Metadata,
	}, nil
}

// Equal compares two tasks by ID only; all other fields are excluded from
// task identity.
func (t *Task) Equal(o *Task) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.ID == o.ID
}

// ConsumeRetry decrements the remaining retry budget and reports whether a
// retry was available. It is called only by the task's state machine.
func (t *Task) ConsumeRetry() bool {
	if t.Remaining <= 0 {
		return false
	}
	t.Remaining--
	return true
}

// Clone returns a deep copy. Repositories hand out clones so readers never
// alias state-machine-owned memory.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Headers = cloneHeaders(t.Headers)
	c.Body = t.Body.clone()
	return &c
}

// Overrides selects fields to change in a With derivation. Nil fields keep
// the source task's value.
type Overrides struct {
	ID      *string
	URL     *string
	Params  map[string]string
	Headers *map[string]string
	Body    *any
	Retries *int
	// Remaining carries retry progress into the derived task. When nil the
	// derived task resets to its (possibly new) full Retries budget.
	Remaining *int

	Filename          *string
	Directory         *string
	BaseLocation      *BaseLocation
	Group             *string
	Updates           *UpdatePolicy
	RequiresUnmetered *bool
	Metadata          *string
}

// With derives a new Task, revalidating through New. The derived task keeps
// the same ID unless explicitly overridden. Remaining is carried forward
// only when set in o; callers deriving mid-flight tasks must pass it
// explicitly or retry progress resets to the new budget.
func (t *Task) With(o Overrides) (*Task, error) {
	opts := Options{
		ID:                t.ID,
		URL:               t.URL,
		Headers:           t.Headers,
		Retries:           t.Retries,
		Filename:          t.Filename,
		Directory:         t.Directory,
		BaseLocation:      t.BaseLocation,
		Group:             t.Group,
		Updates:           t.Updates,
		RequiresUnmetered: t.RequiresUnmetered,
		Metadata:          t.Metadata,
	}
	switch t.Body.Kind {
	case BodyText:
		opts.Body = t.Body.Text
	case BodyBytes:
		opts.Body = t.Body.Raw
	}
	if o.ID != nil {
		opts.ID = *o.ID
	}
	if o.URL != nil {
		opts.URL = *o.URL
	}
	if o.Params != nil {
		opts.Params = o.Params
	}
	if o.Headers != nil {
		opts.Headers = *o.Headers
	}
	if o.Body != nil {
		opts.Body = *o.Body
	}
	if o.Retries != nil {
		opts.Retries = *o.Retries
	}
	if o.Filename != nil {
		opts.Filename = *o.Filename
	}
	if o.Directory != nil {
		opts.Directory = *o.Directory
	}
	if o.BaseLocation != nil {
		opts.BaseLocation = *o.BaseLocation
	}
	if o.Group != nil {
		opts.Group = *o.Group
	}
	if o.Updates != nil {
		opts.Updates = *o.Updates
	}
	if o.RequiresUnmetered != nil {
		opts.RequiresUnmetered = *o.RequiresUnmetered
	}
	if o.Metadata != nil {
		opts.Metadata = *o.Metadata
	}
	derived, err := New(opts)
	if err != nil {
		return nil, err
	}
	if o.Remaining != nil {
		if *o.Remaining < 0 || *o.Remaining > derived.Retries {
			return nil, invalid("retriesRemaining", "must be between 0 and retries")
		}
		derived.Remaining = *o.Remaining
	}
	return derived, nil
}

func validateDestination(filename, directory string) error {
	if filename == "" {
		return invalid("filename", "must not be empty")
	}
	if strings.ContainsRune(filename, '/') {
		return invalid("filename", "must not contain a path separator")
	}
	if strings.HasPrefix(directory, "/") {
		return invalid("directory", "must be relative")
	}
	return nil
}

func validateLocation(l BaseLocation) error {
	switch l {
	case LocationDocuments, LocationTemporary, LocationSupport:
		return nil
	}
	return invalid("baseLocation", "unknown location")
}

func validatePolicy(p UpdatePolicy) error {
	switch p {
	case UpdatesNone, UpdatesStatusOnly, UpdatesProgressOnly, UpdatesBoth:
		return nil
	}
	return invalid("progressUpdatePolicy", "unknown policy")
}
