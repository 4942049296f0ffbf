package notify

import (
	"context"
	"fmt"

	"github.com/bookline-app/bookline/internal/providers/email"
	"github.com/bookline-app/bookline/internal/providers/pdf"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// LogNotifier stands in for the marketplace notification service. The real
// delivery pipeline lives outside this engine; the contract is only that
// Notify is cheap and safe to call.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.log.Info("notification dispatched",
		zap.String("user_id", notification.UserID.String()),
		zap.String("kind", notification.Kind),
		zap.Any("data", notification.Data),
	)
	return nil
}

// EmailReceiptSender renders a PDF receipt and emails it to the customer.
// Address resolution is delegated to the email provider's directory.
type EmailReceiptSender struct {
	log      *zap.Logger
	provider email.Provider
	pdf      *pdf.ReceiptRenderer
}

func NewEmailReceiptSender(log *zap.Logger, provider email.Provider, renderer *pdf.ReceiptRenderer) *EmailReceiptSender {
	return &EmailReceiptSender{
		log:      log.Named("notify.receipt"),
		provider: provider,
		pdf:      renderer,
	}
}

func (s *EmailReceiptSender) SendReceipt(ctx context.Context, customerID snowflake.ID, receipt Receipt) error {
	attachment, err := s.pdf.Render(ctx, pdf.ReceiptData{
		PaymentID:   receipt.PaymentID,
		BookingID:   receipt.BookingID,
		ServiceName: receipt.ServiceName,
		CompanyName: receipt.CompanyName,
		Amount:      receipt.Amount,
		Currency:    receipt.Currency,
		PaidAt:      receipt.PaidAt,
	})
	if err != nil {
		// Still send the plain email; the PDF is a nicety.
		s.log.Warn("receipt pdf rendering failed", zap.String("payment_id", receipt.PaymentID), zap.Error(err))
		attachment = nil
	}

	subject := fmt.Sprintf("Your receipt for %s (%s)", receipt.ServiceName, receipt.PaymentID)
	body := fmt.Sprintf(
		"<p>Thanks for your booking.</p><p>Payment <b>%s</b> of %d %s was received on %s.</p>",
		receipt.PaymentID,
		receipt.Amount,
		receipt.Currency,
		receipt.PaidAt.Format("2006-01-02"),
	)
	return s.provider.SendToUser(ctx, customerID.String(), subject, body, attachment)
}
