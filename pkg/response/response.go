// Package response 提供统一的 HTTP JSON 应答封装与错误分类到状态码的映射
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockforge/stocksim/pkg/apperr"
)

// Body 统一应答结构
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success 返回成功应答
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: "OK", Data: data})
}

// Error 根据错误分类返回对应状态码的应答
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	c.JSON(httpStatus(kind), Body{Code: kind.String(), Message: msg})
}

// ErrorWithStatus 返回指定状态码和错误码的应答
func ErrorWithStatus(c *gin.Context, status int, code, message string) {
	c.JSON(status, Body{Code: code, Message: message})
}

func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInsufficientFunds, apperr.KindInsufficientShares, apperr.KindMarketClosed:
		return http.StatusUnprocessableEntity
	case apperr.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
