package pdf

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type ReceiptData struct {
	PaymentID   string
	BookingID   string
	ServiceName string
	CompanyName string
	Amount      int64
	Currency    string
	PaidAt      time.Time
}

type ReceiptRenderer struct{}

func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

func (r *ReceiptRenderer) Render(ctx context.Context, data ReceiptData) ([]byte, error) {
	cfg := config.NewBuilder().Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Payment: "+data.PaymentID, props.Text{Top: 0}),
			text.New("Booking: "+data.BookingID, props.Text{Top: 5}),
			text.New("Date paid: "+data.PaidAt.Format("2006-01-02"), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New(data.CompanyName, props.Text{Style: fontstyle.Bold}),
			text.New(data.ServiceName, props.Text{Top: 5}),
		),
	)

	m.AddRow(14,
		text.NewCol(12, fmt.Sprintf("Amount paid: %s %s", formatMinorUnits(data.Amount), data.Currency), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	document, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return document.GetBytes(), nil
}

func formatMinorUnits(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
