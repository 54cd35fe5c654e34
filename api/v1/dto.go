package v1

import (
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tinoosan/ferry/internal/machine"
	"github.com/tinoosan/ferry/internal/task"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("safe_url", validateSafeURL)
}

// taskBody is the wire form of a task submission. The full invariant set
// lives in task.New; the tags here reject obvious garbage before it
// reaches the service.
type taskBody struct {
	ID        string            `json:"taskId,omitempty"`
	URL       string            `json:"url" validate:"required,safe_url"`
	Params    map[string]string `json:"params,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	BodyBytes []byte            `json:"bodyBytes,omitempty"`
	Retries   int               `json:"retries" validate:"gte=0,lte=10"`

	Filename          string `json:"filename" validate:"required"`
	Directory         string `json:"directory,omitempty"`
	BaseLocation      int    `json:"baseLocation" validate:"gte=0,lte=2"`
	Group             string `json:"group,omitempty"`
	Updates           int    `json:"progressUpdatePolicy" validate:"gte=0,lte=3"`
	RequiresUnmetered bool   `json:"requiresUnmeteredNetwork,omitempty"`
	Metadata          string `json:"metadata,omitempty"`
}

func (b taskBody) options() task.Options {
	opts := task.Options{
		ID:                b.ID,
		URL:               b.URL,
		Params:            b.Params,
		Headers:           b.Headers,
		Retries:           b.Retries,
		Filename:          b.Filename,
		Directory:         b.Directory,
		BaseLocation:      task.BaseLocation(b.BaseLocation),
		Group:             b.Group,
		Updates:           task.UpdatePolicy(b.Updates),
		RequiresUnmetered: b.RequiresUnmetered,
		Metadata:          b.Metadata,
	}
	switch {
	case b.BodyBytes != nil:
		opts.Body = b.BodyBytes
	case b.Body != "":
		opts.Body = b.Body
	}
	return opts
}

type batchBody struct {
	Tasks []taskBody `json:"tasks" validate:"required,min=1,dive"`
}

type controlBody struct {
	Action string `json:"action"`
}

type taskResponse struct {
	task.Record
	Status task.Status `json:"status"`
}

func toTaskResponse(s machine.Snapshot) taskResponse {
	return taskResponse{Record: s.Task.Record(), Status: s.Status}
}

type batchResponse struct {
	BatchID   string                 `json:"batchId"`
	Succeeded int                    `json:"numSucceeded"`
	Failed    int                    `json:"numFailed"`
	Resolved  bool                   `json:"resolved"`
	Results   map[string]task.Status `json:"results"`
}

func validateSafeURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	host := u.Hostname()
	forbidden := []string{"localhost", "127.0.0.1", "::1", "0.0.0.0", "169.254.169.254"}
	for _, f := range forbidden {
		if strings.EqualFold(host, f) {
			return false
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() {
			return false
		}
	}
	return true
}
