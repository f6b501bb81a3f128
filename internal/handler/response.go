package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope for every non-AI JSON route. Code is 0 on
// success and the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{Message: "ok", Data: data, Meta: meta})
}

// List answers 200 with the items and their count. A nil slice is sent as [].
func List[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, apiResponse{Message: "created", Data: data})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{Code: status, Message: message, Meta: meta})
}

func unavailable(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "service unavailable", nil)
}
