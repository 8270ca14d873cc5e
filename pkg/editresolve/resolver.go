// roomstore - Session state helpers for a Matrix chat client.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package editresolve picks the current display body of a Matrix message
// from the original event and the m.replace edits that target it.
package editresolve

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// gjson paths need the dots in Matrix keys escaped.
const (
	pathRelType    = `m\.relates_to.rel_type`
	pathRelEventID = `m\.relates_to.event_id`
	pathNewContent = `m\.new_content`
)

// Body is the raw content selected as the current body of a message.
type Body struct {
	// Raw is the original content, or the m.new_content of the winning edit.
	Raw json.RawMessage
	// EventID is the event Raw was taken from.
	EventID id.EventID
	// Timestamp is the origin_server_ts of EventID.
	Timestamp int64
	// Edited is true when Raw came from an edit.
	Edited bool
}

// Message parses the body as message content. A body that doesn't have the
// expected shape is reported as absent.
func (b Body) Message() (*event.MessageEventContent, bool) {
	if len(b.Raw) == 0 {
		return nil, false
	}
	var content event.MessageEventContent
	if err := json.Unmarshal(b.Raw, &content); err != nil {
		return nil, false
	}
	return &content, true
}

// Resolver selects between an original event and its edits.
// The zero value applies no sender restriction.
type Resolver struct {
	// RequireSameSender ignores edits that weren't sent by the original sender.
	RequireSameSender bool
}

// Resolve returns the current body of original using the default Resolver.
func Resolve(original *event.Event, relations []*event.Event) Body {
	return Resolver{}.Resolve(original, relations)
}

// Resolve returns the m.new_content of the newest m.replace relation that
// targets original, or the content of original itself when there is none.
//
// Equal timestamps are ordered by event ID so the result doesn't depend on
// the order of relations.
func (r Resolver) Resolve(original *event.Event, relations []*event.Event) Body {
	if original == nil {
		return Body{}
	}
	body := Body{
		Raw:       rawContent(original),
		EventID:   original.ID,
		Timestamp: original.Timestamp,
	}
	var winner *event.Event
	var winnerContent gjson.Result
	for _, rel := range relations {
		newContent, ok := r.replacement(original, rel)
		if !ok {
			continue
		}
		if winner == nil || newer(rel, winner) {
			winner = rel
			winnerContent = newContent
		}
	}
	if winner != nil {
		body.Raw = json.RawMessage(winnerContent.Raw)
		body.EventID = winner.ID
		body.Timestamp = winner.Timestamp
		body.Edited = true
	}
	return body
}

// replacement returns the m.new_content of rel if rel is a usable edit of original.
func (r Resolver) replacement(original, rel *event.Event) (gjson.Result, bool) {
	if rel == nil || rel.ID == original.ID || rel.Type.Type != original.Type.Type {
		return gjson.Result{}, false
	}
	if r.RequireSameSender && rel.Sender != original.Sender {
		return gjson.Result{}, false
	}
	raw := rawContent(rel)
	if gjson.GetBytes(raw, pathRelType).String() != string(event.RelReplace) ||
		gjson.GetBytes(raw, pathRelEventID).String() != string(original.ID) {
		return gjson.Result{}, false
	}
	newContent := gjson.GetBytes(raw, pathNewContent)
	if !newContent.Exists() {
		return gjson.Result{}, false
	}
	return newContent, true
}

func newer(a, b *event.Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}

// replaceTarget returns the event an m.replace relation points at.
func replaceTarget(evt *event.Event) (id.EventID, bool) {
	raw := rawContent(evt)
	if gjson.GetBytes(raw, pathRelType).String() != string(event.RelReplace) {
		return "", false
	}
	target := gjson.GetBytes(raw, pathRelEventID).String()
	if target == "" {
		return "", false
	}
	return id.EventID(target), true
}

// rawContent returns the content JSON as received, falling back to
// marshaling locally constructed content.
func rawContent(evt *event.Event) json.RawMessage {
	if len(evt.Content.VeryRaw) > 0 {
		return evt.Content.VeryRaw
	}
	data, err := json.Marshal(&evt.Content)
	if err != nil {
		return nil
	}
	return data
}
