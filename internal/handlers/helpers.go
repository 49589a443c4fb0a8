package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"datacore/internal/repository"
	"datacore/internal/services"
)

// writeError 把领域错误映射为 HTTP 状态码与统一的错误体。
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrNotReady):
		status, code = http.StatusConflict, "not_ready"
	case errors.Is(err, services.ErrValidation), errors.Is(err, repository.ErrInvalidField):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrStatusTransition):
		status, code = http.StatusConflict, "conflict"
	}
	_ = c.Error(err)
	body := gin.H{"error": code}
	if status < http.StatusInternalServerError {
		body["error_description"] = err.Error()
	}
	c.JSON(status, body)
}
