package finance

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MutationPayload is the wire shape of a deferred mutation. Create
// carries the document fields; update carries both target and fields;
// delete, cancel, and approve carry only the target.
type MutationPayload struct {
	DocumentID uuid.UUID      `json:"document_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func decodeMutation(action string, raw json.RawMessage) (MutationPayload, error) {
	var payload MutationPayload
	if len(raw) == 0 {
		return MutationPayload{}, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return MutationPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch action {
	case "create":
		if len(payload.Fields) == 0 {
			return MutationPayload{}, fmt.Errorf("%w: create requires fields", ErrInvalidPayload)
		}
	case "update":
		if payload.DocumentID == uuid.Nil {
			return MutationPayload{}, fmt.Errorf("%w: update requires document_id", ErrInvalidPayload)
		}
		if len(payload.Fields) == 0 {
			return MutationPayload{}, fmt.Errorf("%w: update requires fields", ErrInvalidPayload)
		}
	case "delete", "cancel", "approve":
		if payload.DocumentID == uuid.Nil {
			return MutationPayload{}, fmt.Errorf("%w: %s requires document_id", ErrInvalidPayload, action)
		}
	default:
		return MutationPayload{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return payload, nil
}
