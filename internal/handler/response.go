package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ========== 响应格式 ==========

// ErrorResponse 错误响应，前端读取 error 字段
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse 保存成功响应
type SuccessResponse struct {
	Success string `json:"success"`
}

// SessionResponse 会话响应
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// Success 成功响应 (200)
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// NoContent 无内容响应 (204)
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest 400 错误响应
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// NotFound 404 错误响应
func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: msg})
}

// InternalServerError 500 错误响应
func InternalServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
}
