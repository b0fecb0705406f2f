package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/danmuck/mcpbridge/internal/mcp"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"github.com/gin-gonic/gin"
)

var (
	ErrServerNotFound = errors.New("gateway: server not found")
	ErrServerDisabled = errors.New("gateway: server disabled")
	ErrBadRequest     = errors.New("gateway: bad request")
)

func statusFor(err error) int {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.Is(err, ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrServerDisabled):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest), errors.Is(err, mcp.ErrToolNameRequired), errors.Is(err, mcp.ErrAddressRequired):
		return http.StatusBadRequest
	case errors.As(err, &rpcErr):
		return http.StatusBadGateway
	case errors.Is(err, mcp.ErrCallTimeout), errors.Is(err, mcp.ErrHandshakeTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, mcp.ErrHandshakeTransport),
		errors.Is(err, mcp.ErrStaleSession),
		errors.Is(err, mcp.ErrSessionClosed),
		errors.Is(err, mcp.ErrCallTransport),
		errors.Is(err, mcp.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		body["code"] = rpcErr.Code
		if len(rpcErr.Data) > 0 {
			body["data"] = rpcErr.Data
		}
	}
	c.JSON(statusFor(err), body)
}
