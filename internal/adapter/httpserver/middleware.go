package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/autoapply/internal/app"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/platform/correlation"
	apperrors "github.com/pscheid92/autoapply/internal/platform/errors"
)

const requestIDHeader = "X-Request-ID"

// errorRules maps domain errors onto API error types.
var errorRules = []apperrors.Rule{
	{Target: domain.ErrRecordNotFound, Type: apperrors.TypeNotFound, Message: "application not found"},
	{Target: domain.ErrListingNotFound, Type: apperrors.TypeNotFound, Message: "listing not found"},
	{Target: domain.ErrInvalidTransition, Type: apperrors.TypeConflict},
	{Target: domain.ErrVersionConflict, Type: apperrors.TypeConflict, Message: "application was modified concurrently, retry"},
	{Target: app.ErrUnknownAction, Type: apperrors.TypeValidation},
	{Target: app.ErrStorage, Type: apperrors.TypeUnavailable, Message: "storage unavailable"},
	{Target: domain.ErrBudgetUnavailable, Type: apperrors.TypeUnavailable, Message: "budget ledger unavailable"},
}

// correlationMiddleware tags the request context with the caller's request
// ID, or a fresh one, and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = correlation.NewID()
		}
		ctx := correlation.WithRequestID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(requestIDHeader, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

// HandleError writes err as a structured JSON error response.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.Map(err, errorRules...)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Dependency unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}
