package editresolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"
)

func TestNewEditContentResolves(t *testing.T) {
	raw, err := NewEditContent("$orig", json.RawMessage(`{"msgtype":"m.text","body":"fixed typo"}`))
	require.NoError(t, err)

	assert.Equal(t, "* fixed typo", gjson.GetBytes(raw, "body").String())
	assert.Equal(t, "fixed typo", gjson.GetBytes(raw, `m\.new_content.body`).String())
	assert.Equal(t, "m.replace", gjson.GetBytes(raw, `m\.relates_to.rel_type`).String())
	assert.Equal(t, "$orig", gjson.GetBytes(raw, `m\.relates_to.event_id`).String())

	edit := &event.Event{
		ID:        "$edit",
		Type:      event.EventMessage,
		Timestamp: 2000,
		Content:   event.Content{VeryRaw: raw},
	}
	body := Resolve(makeMessage("$orig", 1000, "fixd typo"), []*event.Event{edit})
	assert.Equal(t, "fixed typo", bodyText(t, body))
}

func TestNewEditContentStripsInnerRelation(t *testing.T) {
	raw, err := NewEditContent("$orig", json.RawMessage(
		`{"msgtype":"m.text","body":"reply","m.relates_to":{"m.in_reply_to":{"event_id":"$parent"}}}`,
	))
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(raw, `m\.new_content.m\.relates_to`).Exists())
	assert.False(t, gjson.GetBytes(raw, `m\.relates_to.m\.in_reply_to`).Exists())
}

func TestNewEditContentErrors(t *testing.T) {
	_, err := NewEditContent("", json.RawMessage(`{"body":"x"}`))
	assert.Error(t, err)
	_, err = NewEditContent("$orig", json.RawMessage(`[1,2]`))
	assert.Error(t, err)
	_, err = NewEditContent("$orig", json.RawMessage(`{broken`))
	assert.Error(t, err)
}
