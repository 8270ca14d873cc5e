// roomstore - Session state helpers for a Matrix chat client.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package editresolve

import (
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ChangeFunc is called when the resolved body of target changes.
type ChangeFunc func(target id.EventID, body Body)

// Tracker keeps originals and their edits as they are pushed in from sync
// and re-resolves the affected message on every new event.
//
// Edits that arrive before their original are held until it shows up. They
// are kept until Reset unless PruneOrphans drops them earlier.
type Tracker struct {
	resolver Resolver
	log      zerolog.Logger
	onChange ChangeFunc

	mu        sync.Mutex
	originals map[id.EventID]*event.Event
	relations map[id.EventID][]*event.Event
	current   map[id.EventID]Body
}

// NewTracker creates a tracker. onChange may be nil.
func NewTracker(resolver Resolver, log zerolog.Logger, onChange ChangeFunc) *Tracker {
	return &Tracker{
		resolver:  resolver,
		log:       log,
		onChange:  onChange,
		originals: make(map[id.EventID]*event.Event),
		relations: make(map[id.EventID][]*event.Event),
		current:   make(map[id.EventID]Body),
	}
}

// Add records evt as either an original message or an edit and notifies the
// change callback if the displayed body of the affected message changed.
func (t *Tracker) Add(evt *event.Event) {
	if evt == nil || evt.ID == "" {
		return
	}
	t.mu.Lock()
	var target id.EventID
	if replaces, ok := replaceTarget(evt); ok {
		target = replaces
		if t.hasRelationLocked(target, evt.ID) {
			t.mu.Unlock()
			return
		}
		t.relations[target] = append(t.relations[target], evt)
	} else {
		target = evt.ID
		if _, exists := t.originals[target]; exists {
			t.mu.Unlock()
			return
		}
		t.originals[target] = evt
	}
	body, changed := t.resolveLocked(target)
	t.mu.Unlock()

	if !changed {
		return
	}
	t.log.Debug().
		Stringer("target_event_id", target).
		Stringer("body_event_id", body.EventID).
		Bool("edited", body.Edited).
		Msg("Resolved message body changed")
	if t.onChange != nil {
		t.onChange(target, body)
	}
}

// Body returns the current body of target, if its original has been seen.
func (t *Tracker) Body(target id.EventID) (Body, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	body, ok := t.current[target]
	return body, ok
}

// Reset forgets every tracked event.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.originals = make(map[id.EventID]*event.Event)
	t.relations = make(map[id.EventID][]*event.Event)
	t.current = make(map[id.EventID]Body)
	t.mu.Unlock()
}

// PruneOrphans drops held edits whose original hasn't been seen and that
// are older than before (origin_server_ts in milliseconds). It returns the
// number of edits dropped.
func (t *Tracker) PruneOrphans(before int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for target, rels := range t.relations {
		if _, ok := t.originals[target]; ok {
			continue
		}
		kept := rels[:0]
		for _, rel := range rels {
			if rel.Timestamp < before {
				dropped++
			} else {
				kept = append(kept, rel)
			}
		}
		if len(kept) == 0 {
			delete(t.relations, target)
		} else {
			t.relations[target] = kept
		}
	}
	if dropped > 0 {
		t.log.Debug().Int("dropped", dropped).Msg("Pruned edits of unknown messages")
	}
	return dropped
}

func (t *Tracker) hasRelationLocked(target, evtID id.EventID) bool {
	for _, rel := range t.relations[target] {
		if rel.ID == evtID {
			return true
		}
	}
	return false
}

func (t *Tracker) resolveLocked(target id.EventID) (Body, bool) {
	original, ok := t.originals[target]
	if !ok {
		return Body{}, false
	}
	body := t.resolver.Resolve(original, t.relations[target])
	prev, hadPrev := t.current[target]
	t.current[target] = body
	return body, !hadPrev || prev.EventID != body.EventID
}
