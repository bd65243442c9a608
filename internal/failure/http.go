package failure

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPStatus maps err's kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPartialCommit:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// Code returns the error code used in response bodies.
func Code(err error) string {
	switch k := KindOf(err); k {
	case KindExternal:
		return "external_failure"
	default:
		return string(k)
	}
}

// Respond writes err as a JSON error body. Errors exposing Details() have
// those attached under "details"; external errors get a generic message.
func Respond(c *gin.Context, err error) {
	body := gin.H{
		"error":   Code(err),
		"message": err.Error(),
	}
	if KindOf(err) == KindExternal {
		body["message"] = "A backing store is unavailable; retry later"
	}
	var d interface{ Details() any }
	if errors.As(err, &d) {
		body["details"] = d.Details()
	}
	c.JSON(HTTPStatus(err), body)
}
