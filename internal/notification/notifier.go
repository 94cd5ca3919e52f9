package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/mercatopro/mercato/internal/account/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sendTimeout = 10 * time.Second

var templates = template.Must(template.New("emails").Parse(`
{{define "payment_completed"}}
<p>Hi {{.Name}},</p>
<p>Your payment of <strong>{{.Amount}}</strong> for ticket #{{.TicketNumber}}
in <strong>{{.LotteryTitle}}</strong> is confirmed.</p>
<p>Good luck!</p>
{{end}}

{{define "refund_processed"}}
<p>Hi {{.Name}},</p>
<p>We refunded <strong>{{.Amount}}</strong> for your ticket in
<strong>{{.LotteryTitle}}</strong>.</p>
{{end}}

{{define "winner"}}
<p>Congratulations {{.Name}}!</p>
<p>Your ticket #{{.TicketNumber}} won <strong>{{.LotteryTitle}}</strong>.
The prize value is <strong>{{.Amount}}</strong>. We will contact you with
delivery details.</p>
{{end}}

{{define "seller_drawn"}}
<p>Hi {{.Name}},</p>
<p>The drawing for your lottery <strong>{{.LotteryTitle}}</strong> has
completed. The winner has been notified.</p>
{{end}}
`))

type emailData struct {
	Name         string
	LotteryTitle string
	TicketNumber int
	Amount       string
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Provider    Provider `optional:"true"`
	AccountRepo accountdomain.Repository
}

// Notifier sends lifecycle emails. Every send is fire-and-forget on its own
// bounded context; failures are logged and never propagated to the caller.
type Notifier struct {
	db          *gorm.DB
	log         *zap.Logger
	provider    Provider
	accountRepo accountdomain.Repository
}

func NewNotifier(p Params) *Notifier {
	return &Notifier{
		db:          p.DB,
		log:         p.Log.Named("notification"),
		provider:    p.Provider,
		accountRepo: p.AccountRepo,
	}
}

func (n *Notifier) PaymentCompleted(userID snowflake.ID, lotteryTitle string, ticketNumber int, amount int64, currency string) {
	n.dispatch(userID, "Payment confirmed", "payment_completed", emailData{
		LotteryTitle: lotteryTitle,
		TicketNumber: ticketNumber,
		Amount:       formatAmount(amount, currency),
	})
}

func (n *Notifier) RefundProcessed(userID snowflake.ID, lotteryTitle string, amount int64, currency string) {
	n.dispatch(userID, "Refund processed", "refund_processed", emailData{
		LotteryTitle: lotteryTitle,
		Amount:       formatAmount(amount, currency),
	})
}

func (n *Notifier) WinnerDrawn(winnerID snowflake.ID, lotteryTitle string, ticketNumber int, prize int64, currency string) {
	n.dispatch(winnerID, "You won!", "winner", emailData{
		LotteryTitle: lotteryTitle,
		TicketNumber: ticketNumber,
		Amount:       formatAmount(prize, currency),
	})
}

func (n *Notifier) SellerDrawn(sellerID snowflake.ID, lotteryTitle string) {
	n.dispatch(sellerID, "Your lottery has been drawn", "seller_drawn", emailData{
		LotteryTitle: lotteryTitle,
	})
}

func (n *Notifier) dispatch(userID snowflake.ID, subject, tmpl string, data emailData) {
	if n.provider == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		user, err := n.accountRepo.Find(ctx, n.db, userID)
		if err != nil || user == nil || user.Email == "" {
			n.log.Warn("notification recipient unavailable",
				zap.String("user_id", userID.String()),
				zap.String("template", tmpl),
				zap.Error(err),
			)
			return
		}
		data.Name = user.DisplayName
		if data.Name == "" {
			data.Name = user.Email
		}

		var body bytes.Buffer
		if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
			n.log.Error("notification template failed", zap.String("template", tmpl), zap.Error(err))
			return
		}

		if err := n.provider.Send(ctx, Message{
			To:      user.Email,
			Subject: subject,
			HTML:    body.String(),
		}); err != nil {
			n.log.Warn("notification delivery failed",
				zap.String("template", tmpl),
				zap.String("to", user.Email),
				zap.Error(err),
			)
		}
	}()
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
