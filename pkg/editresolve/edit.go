package editresolve

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// NewEditContent builds the content of an m.replace event that swaps the
// body of target for newContent. The top-level body gets the usual "* "
// fallback prefix for clients that don't understand edits.
func NewEditContent(target id.EventID, newContent json.RawMessage) (json.RawMessage, error) {
	if target == "" {
		return nil, fmt.Errorf("missing edit target")
	}
	if !gjson.ValidBytes(newContent) || !gjson.ParseBytes(newContent).IsObject() {
		return nil, fmt.Errorf("new content must be a JSON object")
	}
	inner, err := sjson.DeleteBytes(newContent, `m\.relates_to`)
	if err != nil {
		return nil, fmt.Errorf("failed to strip relation from new content: %w", err)
	}
	out := append([]byte(nil), inner...)
	if body := gjson.GetBytes(inner, "body"); body.Exists() {
		if out, err = sjson.SetBytes(out, "body", "* "+body.String()); err != nil {
			return nil, fmt.Errorf("failed to set fallback body: %w", err)
		}
	}
	if out, err = sjson.SetRawBytes(out, pathNewContent, inner); err != nil {
		return nil, fmt.Errorf("failed to set new content: %w", err)
	}
	if out, err = sjson.SetBytes(out, pathRelType, string(event.RelReplace)); err != nil {
		return nil, fmt.Errorf("failed to set relation type: %w", err)
	}
	if out, err = sjson.SetBytes(out, pathRelEventID, string(target)); err != nil {
		return nil, fmt.Errorf("failed to set relation target: %w", err)
	}
	return out, nil
}
