package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/types"
	"github.com/labstack/echo/v4"
	"gocloud.dev/gcerrors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type errorResponse struct {
	Message string `json:"message"`
}

func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := "something went terribly wrong"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
		if he.Internal != nil {
			err = he.Internal
		}
	}

	attrs := []any{"method", c.Request().Method, "path", c.Request().URL.Path, "status", status}
	if status >= http.StatusInternalServerError {
		slog.Error("handler internal error", append(attrs, "error", err)...)
	} else {
		slog.Debug("handler error", append(attrs, "error", err)...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Message: message})
	}
	if err != nil {
		slog.Error("error writing error response", "error", err)
	}
}

func isUniqueConstraintError(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// errorStatus maps service errors to HTTP status codes.
func errorStatus(err error) int {
	var (
		unknownWorkflow service.UnknownWorkflowError
		queueFull       *service.ErrRunQueueFull
		notActive       service.RunNotActiveError
		unknownJob      service.UnknownJobError
		cyclicDep       service.CyclicDependencyError
		unknownCmd      service.UnknownCommandError
		missingParam    service.MissingParameterError
		cyclicRef       service.CyclicReferenceError
		depth           service.CommandDepthError
		invalidName     types.InvalidNameError
	)
	switch {
	case errors.Is(err, sql.ErrNoRows),
		errors.As(err, &unknownWorkflow),
		errors.Is(err, service.ErrLogArchiveDisabled),
		gcerrors.Code(err) == gcerrors.NotFound:
		return http.StatusNotFound
	case errors.As(err, &queueFull):
		return http.StatusServiceUnavailable
	case errors.As(err, &notActive), isUniqueConstraintError(err):
		return http.StatusConflict
	case errors.As(err, &unknownJob),
		errors.As(err, &cyclicDep),
		errors.As(err, &unknownCmd),
		errors.As(err, &missingParam),
		errors.As(err, &cyclicRef),
		errors.As(err, &depth),
		errors.As(err, &invalidName):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}

// serviceError wraps err in an HTTP error whose status follows the error
// type. Server errors hide the underlying message.
func serviceError(err error) error {
	status := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		message = http.StatusText(status)
	}
	return newError(err, status, message)
}
