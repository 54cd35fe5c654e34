package task

import (
	"encoding/json"
	"io"
)

// Record is the serializable per-task state used to survive a process
// restart. Enum fields are stored as their small-integer ordinals. The
// record carries Remaining so a restored task resumes with the retry
// budget it had, not a fresh one.
type Record struct {
	TaskID    string            `json:"taskId"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	BodyKind  int               `json:"bodyKind"`
	BodyText  string            `json:"bodyText,omitempty"`
	BodyBytes []byte            `json:"bodyBytes,omitempty"`
	Retries   int               `json:"retries"`
	Remaining int               `json:"retriesRemaining"`

	Filename          string `json:"filename"`
	Directory         string `json:"directory"`
	BaseLocation      int    `json:"baseLocation"`
	Group             string `json:"group"`
	Updates           int    `json:"progressUpdatePolicy"`
	RequiresUnmetered bool   `json:"requiresUnmeteredNetwork"`
	Metadata          string `json:"metadata,omitempty"`
}

func (r *Record) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(r) }
func (r *Record) FromJSON(rd io.Reader) error { return json.NewDecoder(rd).Decode(r) }

// Record snapshots the task into its persisted form.
func (t *Task) Record() Record {
	return Record{
		TaskID:            t.ID,
		URL:               t.URL,
		Headers:           cloneHeaders(t.Headers),
		BodyKind:          int(t.Body.Kind),
		BodyText:          t.Body.Text,
		BodyBytes:         t.Body.Raw,
		Retries:           t.Retries,
		Remaining:         t.Remaining,
		Filename:          t.Filename,
		Directory:         t.Directory,
		BaseLocation:      int(t.BaseLocation),
		Group:             t.Group,
		Updates:           int(t.Updates),
		RequiresUnmetered: t.RequiresUnmetered,
		Metadata:          t.Metadata,
	}
}

// FromRecord reconstructs a Task from its persisted form, revalidating
// through New so a corrupted record cannot smuggle in invalid state.
func FromRecord(r Record) (*Task, error) {
	opts := Options{
		ID:                r.TaskID,
		URL:               r.URL,
		Headers:           r.Headers,
		Retries:           r.Retries,
		Filename:          r.Filename,
		Directory:         r.Directory,
		BaseLocation:      BaseLocation(r.BaseLocation),
		Group:             r.Group,
		Updates:           UpdatePolicy(r.Updates),
		RequiresUnmetered: r.RequiresUnmetered,
		Metadata:          r.Metadata,
	}
	switch BodyKind(r.BodyKind) {
	case BodyNone:
	case BodyText:
		opts.Body = r.BodyText
	case BodyBytes:
		opts.Body = r.BodyBytes
	default:
		return nil, invalid("bodyKind", "unknown ordinal")
	}
	t, err := New(opts)
	if err != nil {
		return nil, err
	}
	if r.Remaining < 0 || r.Remaining > t.Retries {
		return nil, invalid("retriesRemaining", "must be between 0 and retries")
	}
	t.Remaining = r.Remaining
	return t, nil
}
