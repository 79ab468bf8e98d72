//go:build linux

package logrelay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Identity label keys appended to every label set.
const (
	LabelFrameworkID = "FRAMEWORK_ID"
	LabelExecutorID  = "EXECUTOR_ID"
	LabelContainerID = "CONTAINER_ID"
)

// labelsFlag is the name of the sink flag carrying the serialized labels.
const labelsFlag = "labels"

// Label is a key/value pair attached to every line a sink writes.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Labels is an ordered label set. Keys may repeat; the sink sees them in order.
type Labels []Label

// BuildLabels returns the workload's caller labels followed by the framework,
// executor, and container id labels, in that order.
func BuildLabels(id WorkloadIdentity) Labels {
	labels := make(Labels, 0, len(id.Labels)+3)
	labels = append(labels, id.Labels...)

	return append(labels,
		Label{Key: LabelFrameworkID, Value: id.FrameworkID},
		Label{Key: LabelExecutorID, Value: id.ExecutorID},
		Label{Key: LabelContainerID, Value: id.ContainerID()},
	)
}

// JSON serializes the set as {"labels":[{"key":..,"value":..},...]}.
// Equal sets always produce identical bytes.
func (l Labels) JSON() (string, error) {
	wire := struct {
		Labels []Label `json:"labels"`
	}{
		Labels: slices.Clone(l),
	}

	if wire.Labels == nil {
		wire.Labels = []Label{}
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	err := enc.Encode(wire)
	if err != nil {
		return "", fmt.Errorf("encoding labels: %w", err)
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Flag returns the sink command-line argument carrying the serialized set.
func (l Labels) Flag() (string, error) {
	encoded, err := l.JSON()
	if err != nil {
		return "", err
	}

	return "--" + labelsFlag + "=" + encoded, nil
}

// ParseLabel parses a KEY=VALUE string. The value may be empty or contain '='.
func ParseLabel(s string) (Label, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return Label{}, fmt.Errorf("invalid label %q: expected KEY=VALUE", s)
	}

	return Label{Key: key, Value: value}, nil
}
