package subscription

import (
	"context"

	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler receives checkout sessions created in subscription mode. The
// subscription lifecycle is owned elsewhere; the payment webhook router
// only needs somewhere to hand those sessions off.
type Handler interface {
	HandleCheckoutCompleted(ctx context.Context, session *gatewaydomain.CheckoutSession) error
}

type logHandler struct {
	log *zap.Logger
}

func NewLogHandler(log *zap.Logger) Handler {
	return &logHandler{log: log.Named("subscription")}
}

func (h *logHandler) HandleCheckoutCompleted(ctx context.Context, session *gatewaydomain.CheckoutSession) error {
	h.log.Info("subscription checkout delegated",
		zap.String("session_id", session.ID),
		zap.String("client_reference_id", session.ClientReferenceID),
	)
	return nil
}

var Module = fx.Module("subscription",
	fx.Provide(NewLogHandler),
)
