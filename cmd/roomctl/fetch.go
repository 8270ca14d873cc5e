package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/roomstore/pkg/coalesce"
	"github.com/lrhodin/roomstore/pkg/feedapi"
	"github.com/lrhodin/roomstore/pkg/session"
)

var fetchCommand = &cli.Command{
	Name:   "fetch",
	Usage:  "Look up articles or tokens through the batching caches",
	Before: prepareApp,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for every key to resolve",
			Value: 30 * time.Second,
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:      "articles",
			Usage:     "Fetch news articles by ID",
			ArgsUsage: "ID...",
			Action: func(ctx *cli.Context) error {
				return runFetch(ctx, func(s *session.Session, wctx context.Context, keys []string) (any, error) {
					return waitAll(wctx, s.Articles, keys)
				})
			},
		},
		{
			Name:      "tokens",
			Usage:     "Fetch tokens by ID",
			ArgsUsage: "ID...",
			Action: func(ctx *cli.Context) error {
				return runFetch(ctx, func(s *session.Session, wctx context.Context, keys []string) (any, error) {
					return waitAll(wctx, s.Tokens, keys)
				})
			},
		},
		{
			Name:      "token-names",
			Usage:     "Fetch tokens by name",
			ArgsUsage: "NAME...",
			Action: func(ctx *cli.Context) error {
				return runFetch(ctx, func(s *session.Session, wctx context.Context, keys []string) (any, error) {
					return waitAll(wctx, s.TokensByName, keys)
				})
			},
		},
	},
}

type fetchResult[V any] struct {
	State string `json:"state"`
	Value *V     `json:"value,omitempty"`
}

func waitAll[V any](ctx context.Context, c *coalesce.Coalescer[V], keys []string) (map[string]fetchResult[V], error) {
	c.Request(keys...)
	entries, err := c.Wait(ctx, keys...)
	out := make(map[string]fetchResult[V], len(keys))
	for _, key := range keys {
		entry, ok := entries[key]
		if !ok {
			entry = c.Read(key)
		}
		res := fetchResult[V]{State: entry.State.String()}
		if entry.State == coalesce.StateFound {
			value := entry.Value
			res.Value = &value
		}
		out[key] = res
	}
	return out, err
}

func runFetch(ctx *cli.Context, fn func(*session.Session, context.Context, []string) (any, error)) error {
	keys := ctx.Args().Slice()
	if len(keys) == 0 {
		return fmt.Errorf("no keys given")
	}
	cfg := getConfig(ctx)
	log := getLogger(ctx)
	api, err := feedapi.NewClient(cfg.FeedAPI(), *log)
	if err != nil {
		return err
	}
	s := session.New(id.UserID(ctx.String("user")), api, nil, session.Options{
		Coalescer: cfg.Coalescer(),
	}, *log)
	defer s.Close()

	wctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
	defer cancel()
	result, err := fn(s, wctx, keys)
	if encErr := printJSON(result); encErr != nil {
		return encErr
	}
	if err != nil {
		return fmt.Errorf("not every key resolved: %w", err)
	}
	return nil
}
