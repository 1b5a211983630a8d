// Package domain holds the core entities, ports and classification rules.
package domain

import (
	"context"
	"errors"
)

// Context aliases context.Context to keep port signatures compact.
type Context = context.Context

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrProtocol        = errors.New("protocol error")
	ErrInternal        = errors.New("internal error")
)
