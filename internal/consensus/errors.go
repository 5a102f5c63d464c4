package consensus

import (
	"fmt"
	"sort"
	"strings"
)

// QuorumError 表示某一轮有效回复数低于 min_quorum，本周期该 symbol 中止。
type QuorumError struct {
	Round     string
	Responded int
	Required  int
	Failures  map[string]error
}

func (e *QuorumError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	msg := fmt.Sprintf("%s quorum not met: %d/%d responded", e.Round, e.Responded, e.Required)
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}
