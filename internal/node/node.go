package node

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Node is an HTTP-facing process component.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
	Serve(ctx context.Context) error
}
