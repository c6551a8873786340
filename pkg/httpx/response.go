package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"google.golang.org/protobuf/proto"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PageData 分页数据
type PageData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// OK 成功响应
func OK(c *gin.Context, data interface{}) {
	WriteObject(c, http.StatusOK, data)
}

// Created 资源创建成功
func Created(c *gin.Context, data interface{}) {
	WriteObject(c, http.StatusCreated, data)
}

// WriteObject 兼容protobuf和json，protobuf请求需要data本身是proto.Message
func WriteObject(c *gin.Context, status int, data interface{}) {
	if c.ContentType() == binding.MIMEPROTOBUF {
		if msg, ok := data.(proto.Message); ok {
			c.ProtoBuf(status, msg)
			return
		}
	}
	c.JSON(status, Response{Success: status < http.StatusBadRequest, Data: data})
}

// Error 错误响应
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Success: false, Message: message})
}

// Abort 错误响应并中止后续处理
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Message: message})
}
