package contract

import (
	"fmt"
	"strings"
)

// Issue pins one contract violation to the path inside the model output that
// caused it. Expected and Actual are optional diagnostic hints.
type Issue struct {
	Path     string `json:"path"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", i.Path, i.Reason)
	if i.Expected != "" {
		fmt.Fprintf(&b, " (expected %s", i.Expected)
		if i.Actual != "" {
			fmt.Fprintf(&b, ", got %s", i.Actual)
		}
		b.WriteString(")")
	} else if i.Actual != "" {
		fmt.Fprintf(&b, " (got %s)", i.Actual)
	}
	return b.String()
}

// Issues is an ordered violation list.
type Issues []Issue

func (is Issues) String() string {
	parts := make([]string, 0, len(is))
	for _, i := range is {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "; ")
}
