package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/roomstore/pkg/editresolve"
)

var editCommand = &cli.Command{
	Name:      "edit",
	Usage:     "Print the content of an edit event replacing a message",
	ArgsUsage: "EVENT_ID",
	Action:    cmdEdit,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "body",
			Aliases:  []string{"b"},
			Usage:    "New plain text body",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "msgtype",
			Usage: "Message type of the new content",
			Value: string(event.MsgText),
		},
	},
}

func cmdEdit(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("edit takes exactly one event ID")
	}
	target := id.EventID(ctx.Args().First())
	newContent, err := json.Marshal(&event.MessageEventContent{
		MsgType: event.MessageType(ctx.String("msgtype")),
		Body:    ctx.String("body"),
	})
	if err != nil {
		return err
	}
	content, err := editresolve.NewEditContent(target, newContent)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(content))
	return err
}
