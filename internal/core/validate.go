package core

import (
	"fmt"
	"strings"

	"github.com/hirelane/discuss/internal/types"
)

// ValidateDraft rejects drafts that carry neither text nor an attachment.
// Runs before any network call or optimistic staging.
func ValidateDraft(draft types.Draft) error {
	if strings.TrimSpace(draft.Body) == "" && draft.Attachment == nil {
		return types.ErrInvalidMessage
	}
	return nil
}

// ValidateEdit rejects empty replacement bodies.
func ValidateEdit(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: edit would leave message empty", types.ErrInvalidMessage)
	}
	return nil
}
