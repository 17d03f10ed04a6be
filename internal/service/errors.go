package service

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

func internalError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func invalid(message string, details map[string]interface{}) error {
	return appErrors.WithDetails(appErrors.ErrValidation, message, details)
}

// lockError maps lock manager failures to API errors carrying the
// conflicting key.
func lockError(err error) error {
	var denied *lock.DeniedError
	if errors.As(err, &denied) {
		return deniedError(denied.Key, denied.Holder)
	}
	var notHeld *lock.NotHeldError
	if errors.As(err, &notHeld) {
		return appErrors.WithDetails(appErrors.ErrLockRequired, "", map[string]interface{}{
			"key": notHeld.Key.String(),
		})
	}
	if errors.Is(err, lock.ErrNoSession) {
		return appErrors.ErrSessionNotConnected
	}
	return internalError(err, "lock operation failed")
}

func deniedError(key models.ResourceKey, holder lock.Lock) error {
	message := "resource busy"
	if holder.IsAdmin {
		message = "resource is locked by an administrator"
	}
	return appErrors.WithDetails(appErrors.ErrLockDenied, message, map[string]interface{}{
		"key":     key.String(),
		"userId":  holder.UserID,
		"isAdmin": holder.IsAdmin,
	})
}

func notFoundIfMissing(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf(format, args...))
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return internalError(err, fmt.Sprintf("failed to load "+format, args...))
}
