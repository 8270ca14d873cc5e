// roomstore - Session state helpers for a Matrix chat client.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package session holds the state that lives for one login: the batched
// lookup caches, resolved message edits and composer drafts. Logging out
// resets all of it.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/roomstore/pkg/coalesce"
	"github.com/lrhodin/roomstore/pkg/editresolve"
	"github.com/lrhodin/roomstore/pkg/feedapi"
)

// Fetcher is the backend the caches load from. *feedapi.Client implements it.
type Fetcher interface {
	FetchArticles(ctx context.Context, ids []string) ([]feedapi.Article, error)
	FetchTokensByID(ctx context.Context, ids []string) ([]feedapi.Token, error)
	FetchTokensByName(ctx context.Context, names []string) ([]feedapi.Token, error)
}

type Options struct {
	// Coalescer is the template for all three caches. Name is set per cache.
	Coalescer coalesce.Config
	Resolver  editresolve.Resolver
	// OnEdit is called whenever the resolved body of a tracked message changes.
	OnEdit editresolve.ChangeFunc
}

type Session struct {
	UserID id.UserID

	Articles     *coalesce.Coalescer[feedapi.Article]
	Tokens       *coalesce.Coalescer[feedapi.Token]
	TokensByName *coalesce.Coalescer[feedapi.Token]
	Edits        *editresolve.Tracker
	// Drafts is nil when drafts aren't persisted.
	Drafts *DraftStore

	log zerolog.Logger
}

func New(userID id.UserID, api Fetcher, drafts *DraftStore, opts Options, log zerolog.Logger) *Session {
	log = log.With().Stringer("user_id", userID).Logger()
	s := &Session{
		UserID: userID,
		Drafts: drafts,
		log:    log,
	}
	s.Articles = coalesce.New(api.FetchArticles, feedapi.ArticleKey, named(opts.Coalescer, "articles"), log)
	s.Tokens = coalesce.New(api.FetchTokensByID, feedapi.TokenID, named(opts.Coalescer, "tokens"), log)
	s.TokensByName = coalesce.New(api.FetchTokensByName, feedapi.TokenName, named(opts.Coalescer, "token_names"), log)
	// Reset clears TokensByName before Tokens, so anything primed by a batch
	// that was already applied is cleared again.
	s.TokensByName.OnApply(func(tokens []feedapi.Token) {
		s.Tokens.Prime(tokens...)
	})
	s.Edits = editresolve.NewTracker(opts.Resolver, log.With().Str("component", "edits").Logger(), opts.OnEdit)
	return s
}

func named(cfg coalesce.Config, name string) coalesce.Config {
	cfg.Name = name
	return cfg
}

// Reset drops everything the session has cached and deletes the drafts of the user.
func (s *Session) Reset(ctx context.Context) error {
	s.Articles.Reset()
	s.TokensByName.Reset()
	s.Tokens.Reset()
	s.Edits.Reset()
	if s.Drafts != nil {
		if err := s.Drafts.Clear(ctx); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
	}
	s.log.Info().Msg("Session reset")
	return nil
}

// Close stops the caches. It doesn't close the draft store.
func (s *Session) Close() {
	s.Articles.Close()
	s.Tokens.Close()
	s.TokensByName.Close()
}
