package dialogue

import (
	"fmt"
	"strings"

	"github.com/tbxark/stepform/types"
)

func formatRequest(req *Request) string {
	sections := []string{fmt.Sprintf("# Outcome:\n%s", req.Outcome)}
	if req.Participant != "" {
		sections = append(sections, fmt.Sprintf("# Participant:\n%s", req.Participant))
	}
	if req.Outcome == OutcomeFailed {
		sections = append(sections, fmt.Sprintf("# Failure:\n- reason: %s\n- field: %s", req.Reason, req.FieldID))
	}
	if table := types.FormatEntries(req.Entries, req.Masked...); table != "" {
		sections = append(sections, "# Collected:\n"+strings.TrimRight(table, "\n"))
	}
	if req.TeardownIn > 0 {
		sections = append(sections, fmt.Sprintf("# Channel closes in:\n%s", req.TeardownIn))
	}
	return strings.Join(sections, "\n\n")
}

func teardownNotice(req *Request) string {
	if req.TeardownIn <= 0 {
		return ""
	}
	return fmt.Sprintf("\n\nThis channel will be deleted in %s.", req.TeardownIn)
}
