// Package coalesce merges lookups that independent callers issue one id at a
// time into debounced batch fetches, and keeps the results for the session.
package coalesce
