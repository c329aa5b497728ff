package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks the actor and tenant carried by ctx against object/action.
	Authorize(ctx context.Context, object string, action string) error
}

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)
