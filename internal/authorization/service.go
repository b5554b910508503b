package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor      = errors.New("invalid_actor")
	ErrInvalidVirtualLab = errors.New("invalid_virtual_lab")
	ErrInvalidObject     = errors.New("invalid_object")
	ErrInvalidAction     = errors.New("invalid_action")
	ErrForbidden         = errors.New("forbidden")
)

// Service answers whether an actor may perform an action on an object
// within one virtual lab. Actors are "system", "user:<id>" or
// "api_key:<id>".
type Service interface {
	Authorize(ctx context.Context, actor string, labID string, object string, action string) error
}
