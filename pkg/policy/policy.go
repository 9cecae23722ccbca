package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cuemby/scaler/pkg/types"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/labels"
)

// Label keys recognized on services
const (
	LabelPrefix     = "scaler."
	LabelEnabled    = LabelPrefix + "enabled"
	LabelPerNode    = LabelPrefix + "per_node"
	LabelNodeFilter = LabelPrefix + "node_filter"
)

// Field names reported in validation errors
const (
	FieldEnabled    = "enabled"
	FieldPerNode    = "per_node"
	FieldNodeFilter = "node_filter"
)

// ValidationError describes one malformed configuration field
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Reason, e.Value)
}

// HasScalerLabels reports whether a service declares any scaler.* label.
// Services without one are unmanaged, which is not an error.
func HasScalerLabels(l map[string]string) bool {
	for key := range l {
		if strings.HasPrefix(key, LabelPrefix) {
			return true
		}
	}
	return false
}

// Parse converts service labels into a validated ServiceConfig. On failure
// the returned error holds one *ValidationError per bad field; use
// multierr.Errors or errors.As to inspect them.
func Parse(l map[string]string) (*types.ServiceConfig, error) {
	var errs error

	enabled, err := parseEnabled(l)
	errs = multierr.Append(errs, err)

	perNode, err := parsePerNode(l)
	errs = multierr.Append(errs, err)

	raw := strings.TrimSpace(l[LabelNodeFilter])
	var selector labels.Selector
	if raw != "" {
		selector, err = labels.Parse(raw)
		if err != nil {
			errs = multierr.Append(errs, &ValidationError{
				Field:  FieldNodeFilter,
				Value:  raw,
				Reason: err.Error(),
			})
		}
	}

	if errs != nil {
		return nil, errs
	}

	return &types.ServiceConfig{
		Enabled:       enabled,
		PerNode:       perNode,
		NodeFilter:    selector,
		RawNodeFilter: raw,
	}, nil
}

func parseEnabled(l map[string]string) (bool, error) {
	value, ok := l[LabelEnabled]
	if !ok {
		return false, &ValidationError{Field: FieldEnabled, Reason: "field required"}
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "t", "1", "yes", "y", "on":
		return true, nil
	case "false", "f", "0", "no", "n", "off":
		return false, nil
	}
	return false, &ValidationError{Field: FieldEnabled, Value: value, Reason: "value is not a valid boolean"}
}

func parsePerNode(l map[string]string) (float64, error) {
	value, ok := l[LabelPerNode]
	if !ok {
		return 0, &ValidationError{Field: FieldPerNode, Reason: "field required"}
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, &ValidationError{Field: FieldPerNode, Value: value, Reason: "value is not a valid number"}
	}
	if n <= 0 {
		return 0, &ValidationError{Field: FieldPerNode, Value: value, Reason: "value must be greater than 0"}
	}
	return n, nil
}

// NodeAttributes returns the attribute set node filters are matched against:
// node labels under their own keys, engine labels under "engine.labels.",
// and the node.* built-ins.
func NodeAttributes(node *types.Node) labels.Set {
	set := make(labels.Set, len(node.Labels)+len(node.EngineLabels)+5)
	for k, v := range node.EngineLabels {
		set["engine.labels."+k] = v
	}
	for k, v := range node.Labels {
		set[k] = v
	}
	set["node.id"] = node.ID
	set["node.hostname"] = node.Hostname
	set["node.role"] = string(node.Role)
	set["node.platform.os"] = node.Platform.OS
	set["node.platform.arch"] = node.Platform.Architecture
	return set
}

// Matches reports whether node satisfies selector. A nil selector matches
// every node.
func Matches(selector labels.Selector, node *types.Node) bool {
	if selector == nil {
		return true
	}
	return selector.Matches(NodeAttributes(node))
}
