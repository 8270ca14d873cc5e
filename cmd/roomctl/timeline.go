package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"maunium.net/go/mautrix/event"
)

// readTimeline parses either a JSON array of events or one event per line.
func readTimeline(r io.Reader) ([]*event.Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var evts []*event.Event
		if err = json.Unmarshal(trimmed, &evts); err != nil {
			return nil, fmt.Errorf("failed to parse event array: %w", err)
		}
		return evts, nil
	}
	var evts []*event.Event
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		// Content keeps a reference to the bytes it was decoded from.
		raw := bytes.TrimSpace(bytes.Clone(scanner.Bytes()))
		if len(raw) == 0 {
			continue
		}
		var evt event.Event
		if err = json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("failed to parse event on line %d: %w", line, err)
		}
		evts = append(evts, &evt)
	}
	return evts, scanner.Err()
}

func readTimelineFile(path string) ([]*event.Event, error) {
	if path == "-" {
		return readTimeline(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readTimeline(file)
}

// isDisplayable reports whether evt is shown as a message in the timeline.
func isDisplayable(evt *event.Event) bool {
	switch evt.Type.Type {
	case event.EventMessage.Type, event.EventSticker.Type:
		return true
	}
	return false
}
