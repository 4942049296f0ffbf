package notify

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(NewDispatcher),
	fx.Provide(func(log *zap.Logger) Notifier { return NewLogNotifier(log) }),
	fx.Provide(func(sender *EmailReceiptSender) ReceiptSender { return sender }),
	fx.Provide(NewEmailReceiptSender),
)
