package diary

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrPermissionDenied is returned for privileged commands from
// non-admin senders. The command layer decides whether the denial is
// silent (group) or explicit (private).
var ErrPermissionDenied = errors.New("permission denied")

// InsufficientMessagesError reports why the eligibility filter rejected
// a run, carrying per-conversation counts for the debug command.
type InsufficientMessagesError struct {
	MinPerChat int
	MinTotal   int
	Total      int            // summed count over eligible conversations
	Counts     map[string]int // conversation ref -> raw message count
}

func (e *InsufficientMessagesError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "insufficient messages: %d eligible of %d required (per-chat minimum %d)",
		e.Total, e.MinTotal, e.MinPerChat)
	if len(e.Counts) > 0 {
		refs := make([]string, 0, len(e.Counts))
		for ref := range e.Counts {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		parts := make([]string, 0, len(refs))
		for _, ref := range refs {
			parts = append(parts, fmt.Sprintf("%s=%d", ref, e.Counts[ref]))
		}
		fmt.Fprintf(&sb, "; counts: %s", strings.Join(parts, ", "))
	}
	return sb.String()
}

// GenerationError wraps a failed generation attempt with the stage that
// failed. One attempt per invocation; retries are distinct invocations.
type GenerationError struct {
	Stage string // "complete", "postprocess", "persist"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PublishError marks a failed external publish. The diary record is
// stored before publish is attempted, so this never loses content.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
