package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/roomstore/pkg/session"
)

var draftCommand = &cli.Command{
	Name:   "draft",
	Usage:  "Manage saved composer drafts",
	Before: prepareApp,
	Subcommands: []*cli.Command{
		{
			Name:      "set",
			Usage:     "Save the draft of a room",
			ArgsUsage: "ROOM_ID TEXT",
			Action:    cmdDraftSet,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "reply-to", Usage: "Event ID the draft replies to"},
				&cli.StringFlag{Name: "edit-of", Usage: "Event ID the draft edits"},
			},
		},
		{
			Name:      "get",
			Usage:     "Print the draft of a room",
			ArgsUsage: "ROOM_ID",
			Action:    cmdDraftGet,
		},
		{
			Name:   "list",
			Usage:  "List all drafts, most recently updated first",
			Action: cmdDraftList,
		},
		{
			Name:      "delete",
			Usage:     "Delete the draft of a room",
			ArgsUsage: "ROOM_ID",
			Action:    cmdDraftDelete,
		},
		{
			Name:   "clear",
			Usage:  "Delete every draft of the user",
			Action: cmdDraftClear,
		},
	},
}

type draftJSON struct {
	RoomID    id.RoomID  `json:"room_id"`
	Body      string     `json:"body"`
	ReplyTo   id.EventID `json:"reply_to,omitempty"`
	EditOf    id.EventID `json:"edit_of,omitempty"`
	UpdatedAt int64      `json:"updated_ts"`
}

func toDraftJSON(draft session.Draft) draftJSON {
	return draftJSON{
		RoomID:    draft.RoomID,
		Body:      draft.Body,
		ReplyTo:   draft.ReplyTo,
		EditOf:    draft.EditOf,
		UpdatedAt: draft.UpdatedAt.UnixMilli(),
	}
}

func openDrafts(ctx *cli.Context) (*session.DraftStore, error) {
	cfg := getConfig(ctx)
	return session.OpenDraftStore(ctx.Context, cfg.Database.URI, id.UserID(ctx.String("user")))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdDraftSet(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("draft set takes a room ID and the draft text")
	}
	store, err := openDrafts(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Set(ctx.Context, session.Draft{
		RoomID:    id.RoomID(ctx.Args().Get(0)),
		Body:      ctx.Args().Get(1),
		ReplyTo:   id.EventID(ctx.String("reply-to")),
		EditOf:    id.EventID(ctx.String("edit-of")),
		UpdatedAt: time.Now(),
	})
}

func cmdDraftGet(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("draft get takes exactly one room ID")
	}
	store, err := openDrafts(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	draft, found, err := store.Get(ctx.Context, id.RoomID(ctx.Args().First()))
	if err != nil {
		return err
	} else if !found {
		return fmt.Errorf("no draft saved for %s", ctx.Args().First())
	}
	return printJSON(toDraftJSON(draft))
}

func cmdDraftList(ctx *cli.Context) error {
	store, err := openDrafts(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	drafts, err := store.List(ctx.Context)
	if err != nil {
		return err
	}
	out := make([]draftJSON, len(drafts))
	for i, draft := range drafts {
		out[i] = toDraftJSON(draft)
	}
	return printJSON(out)
}

func cmdDraftDelete(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("draft delete takes exactly one room ID")
	}
	store, err := openDrafts(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Delete(ctx.Context, id.RoomID(ctx.Args().First()))
}

func cmdDraftClear(ctx *cli.Context) error {
	store, err := openDrafts(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Clear(ctx.Context)
}
