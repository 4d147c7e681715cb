package eventhandler

import (
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

// EventSender accepts membership events without blocking the gateway.
type EventSender interface {
	SendEvent(event recordsessions.Event)
}

type HandlerOptions struct {
	Logger          logger.Logger
	SessionsManager EventSender
}
