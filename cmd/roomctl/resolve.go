package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/roomstore/pkg/editresolve"
)

var resolveCommand = &cli.Command{
	Name:      "resolve",
	Usage:     "Print the current body of every message in a timeline dump",
	ArgsUsage: "FILE",
	Before:    prepareApp,
	Action:    cmdResolve,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "watch",
			Aliases: []string{"w"},
			Usage:   "Keep watching the file and print bodies as they change",
		},
	},
}

type resolvedLine struct {
	EventID     id.EventID      `json:"event_id"`
	BodyEventID id.EventID      `json:"body_event_id"`
	Edited      bool            `json:"edited"`
	Timestamp   int64           `json:"origin_server_ts"`
	Content     json.RawMessage `json:"content"`
}

func writeResolved(w io.Writer, target id.EventID, body editresolve.Body) error {
	return json.NewEncoder(w).Encode(resolvedLine{
		EventID:     target,
		BodyEventID: body.EventID,
		Edited:      body.Edited,
		Timestamp:   body.Timestamp,
		Content:     body.Raw,
	})
}

// resolveTimeline returns the current body of every original event in evts.
func resolveTimeline(resolver editresolve.Resolver, evts []*event.Event) map[id.EventID]editresolve.Body {
	bodies := make(map[id.EventID]editresolve.Body)
	tracker := editresolve.NewTracker(resolver, zerolog.Nop(), func(target id.EventID, body editresolve.Body) {
		bodies[target] = body
	})
	for _, evt := range evts {
		tracker.Add(evt)
	}
	return bodies
}

func cmdResolve(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("resolve takes exactly one file argument")
	}
	path := ctx.Args().First()
	cfg := getConfig(ctx)
	log := getLogger(ctx)
	resolver := editresolve.Resolver{RequireSameSender: cfg.Edits.RequireSameSender}

	if !ctx.Bool("watch") {
		evts, err := readTimelineFile(path)
		if err != nil {
			return err
		}
		bodies := resolveTimeline(resolver, evts)
		for _, evt := range evts {
			if !isDisplayable(evt) {
				continue
			}
			if body, ok := bodies[evt.ID]; ok {
				if err = writeResolved(os.Stdout, evt.ID, body); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if path == "-" {
		return fmt.Errorf("--watch needs a file path, not stdin")
	}
	tracker := editresolve.NewTracker(resolver, log.With().Str("component", "edits").Logger(), func(target id.EventID, body editresolve.Body) {
		if err := writeResolved(os.Stdout, target, body); err != nil {
			log.Err(err).Msg("Failed to write resolved body")
		}
	})
	reload := func() {
		evts, err := readTimelineFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read timeline")
			return
		}
		for _, evt := range evts {
			tracker.Add(evt)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory so editors that replace the file are still seen.
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	absPath, _ := filepath.Abs(path)
	reload()
	for {
		select {
		case <-ctx.Context.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			changedPath, _ := filepath.Abs(evt.Name)
			if changedPath != absPath || evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}
