package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service records audit trail entries for billing and security actions.
type Service interface {
	AuditLog(
		ctx context.Context,
		companyID *snowflake.ID,
		actorType string,
		actorID *string,
		action string,
		targetType string,
		targetID *string,
		metadata map[string]any,
	) error
}

var (
	ErrInvalidAction     = errors.New("invalid_action")
	ErrInvalidTargetType = errors.New("invalid_target_type")
)
