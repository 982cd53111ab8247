package notification

import (
	"errors"
	"fmt"

	"github.com/lllypuk/libranotify/internal/domain/errs"
)

var (
	// ErrInvalidNotificationID is returned for ids that are not positive.
	ErrInvalidNotificationID = fmt.Errorf("%w: notification id must be positive", errs.ErrInvalidInput)

	// ErrAlreadyStarted is returned by Start on a running coordinator.
	ErrAlreadyStarted = errors.New("coordinator already started")
)
