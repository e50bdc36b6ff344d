package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Respond writes data inside an envelope whose status mirrors the HTTP status.
func Respond[T any](c echo.Context, status int, data T) error {
	return c.JSON(status, Envelope[T]{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse[T any](c echo.Context, data T) error {
	return Respond(c, http.StatusOK, data)
}

// AcceptedResponse answers requests whose work continues after the response.
func AcceptedResponse[T any](c echo.Context, data T) error {
	return Respond(c, http.StatusAccepted, data)
}

func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequestResponse reports rejected request fields.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return Respond(c, http.StatusBadRequest, errs)
}

// ErrorsResponse writes app errors under status.
func ErrorsResponse(c echo.Context, status int, errs ...*AppError) error {
	return Respond(c, status, errs)
}

// AppErrorResponse reports err with its own status when it is an AppError and as an
// opaque 500 otherwise, so internal causes never reach the caller.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return ErrorsResponse(c, appErr.Status, appErr)
	}
	return ErrorsResponse(c, http.StatusInternalServerError, InternalError("something went wrong"))
}
