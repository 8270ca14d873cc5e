// roomstore - Session state helpers for a Matrix chat client.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package feedapi is the client for the backend that serves news articles
// and wallet token metadata in batches.
package feedapi

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	articlesPath = "/api/v1/articles"
	tokensPath   = "/api/v1/tokens"
)

type Config struct {
	BaseURL string
	// Timeout applies when the request context has no deadline.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing backend base URL")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("backend base URL %q must be http or https", cfg.BaseURL)
	}
	client := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http: &fasthttp.Client{
			Name:                     cfg.UserAgent,
			NoDefaultUserAgentHeader: cfg.UserAgent == "",
		},
		log: log.With().Str("component", "feedapi").Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return client, nil
}

// FetchArticles loads articles by id.
func (c *Client) FetchArticles(ctx context.Context, ids []string) ([]Article, error) {
	var articles []Article
	if err := c.getList(ctx, articlesPath, "ids", ids, &articles); err != nil {
		return nil, fmt.Errorf("failed to fetch articles: %w", err)
	}
	return articles, nil
}

// FetchTokensByID loads token metadata by token id.
func (c *Client) FetchTokensByID(ctx context.Context, ids []string) ([]Token, error) {
	var tokens []Token
	if err := c.getList(ctx, tokensPath, "ids", ids, &tokens); err != nil {
		return nil, fmt.Errorf("failed to fetch tokens by id: %w", err)
	}
	return tokens, nil
}

// FetchTokensByName loads token metadata by display name.
func (c *Client) FetchTokensByName(ctx context.Context, names []string) ([]Token, error) {
	var tokens []Token
	if err := c.getList(ctx, tokensPath, "names", names, &tokens); err != nil {
		return nil, fmt.Errorf("failed to fetch tokens by name: %w", err)
	}
	return tokens, nil
}

func (c *Client) getList(ctx context.Context, path, param string, keys []string, into any) error {
	if len(keys) == 0 {
		return nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.URI().QueryArgs().Add(param, strings.Join(keys, ","))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	// fasthttp has no context support, only the deadline is honored.
	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else if c.timeout > 0 {
		err = c.http.DoTimeout(req, resp, c.timeout)
	} else {
		err = c.http.Do(req, resp)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	c.log.Debug().
		Str("path", path).
		Int("keys", len(keys)).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("Backend request finished")
	if status < 200 || status >= 300 {
		return &HTTPError{StatusCode: status, Body: truncate(string(resp.Body()), 512)}
	}
	if err = json.Unmarshal(resp.Body(), into); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
