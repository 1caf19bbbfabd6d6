package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/validation"
)

// RespondAPIError resolves status and code from err. Validation failures list
// the offending fields; internal errors never leak their message.
func RespondAPIError(c *gin.Context, err error) {
	if fields := validation.Messages(err); fields != nil {
		c.JSON(http.StatusBadRequest, ErrorEnvelope{
			Error: APIError{Message: "validation failed", Code: "validation_failed", Fields: fields},
		})
		return
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	status, code := apierr.From(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if status == http.StatusInternalServerError {
			err = errors.New("internal error")
		}
	}
	RespondError(c, status, code, err)
}

// BindJSON binds and validates the body, writing the error response itself.
func BindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		RespondAPIError(c, err)
		return false
	}
	return true
}
