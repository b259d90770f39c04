package dispatcher

import (
	"github.com/garyjia/case-event-handler/internal/application/handler"
)

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name    string
	Handler handler.Handler
}
