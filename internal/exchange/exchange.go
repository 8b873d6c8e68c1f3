// Package exchange coordinates the paid-seat settlement flow: a ticket
// is offered and locked by its owner, the creator settles it through a
// payment rail, and only then is the binding marked sold so the party
// may start playing.
package exchange

import (
	"context"
	"fmt"
	"log"

	"github.com/partyware/go-partysync/internal/event"
	"github.com/partyware/go-partysync/internal/notify"
	"github.com/partyware/go-partysync/internal/payment"
	"github.com/partyware/go-partysync/internal/store"
	"github.com/partyware/go-partysync/internal/transport"
	"github.com/partyware/go-partysync/internal/types"
)

// TicketDispatcher is the slice of the dispatcher the coordinator
// drives.
type TicketDispatcher interface {
	SendTicket(partyId string, ticket types.Ticket) error
	ReleaseTicket(partyId string) error
	ExchangeTicket(partyId, applicantId string) error
	StartPlaying(partyId string) error
}

// Coordinator sequences payment settlement against the optimistic
// ticket binding. The binding flags are only advanced once the rail
// confirms the transfer, so a rejected payment leaves the ticket locked
// and retryable.
type Coordinator struct {
	log        *log.Logger
	store      *store.Store
	dispatcher TicketDispatcher
	gateways   map[payment.Rail]payment.Gateway
	notifier   notify.OperatorNotifier
}

func NewCoordinator(logger *log.Logger, st *store.Store, d TicketDispatcher,
	gateways map[payment.Rail]payment.Gateway, n notify.OperatorNotifier) *Coordinator {
	return &Coordinator{
		log:        logger,
		store:      st,
		dispatcher: d,
		gateways:   gateways,
		notifier:   n,
	}
}

// OfferTicket locks a ticket on the session user's own applicant
// record.
func (c *Coordinator) OfferTicket(partyId string, ticket types.Ticket) error {
	return c.dispatcher.SendTicket(partyId, ticket)
}

// WithdrawTicket releases the session user's locked ticket.
func (c *Coordinator) WithdrawTicket(partyId string) error {
	return c.dispatcher.ReleaseTicket(partyId)
}

// SettleTicket pays the ticket owner and marks the binding sold. The
// transfer amount is the ticket price minus the platform fee, routed to
// the rail matching the ticket's currency. The coordinator blocks on
// the rail; nothing is marked locally until the transfer confirms, so a
// failed settlement leaves the lock intact for retry.
func (c *Coordinator) SettleTicket(ctx context.Context, partyId, applicantId, destination string) error {
	p := c.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}
	if p.CreatorId != c.store.UserId() {
		return types.NewPreconditionFailed("only the party creator may settle a ticket")
	}
	if p.PaymentMode != types.PaymentPaid {
		return types.NewPreconditionFailed("party is not paid")
	}

	a, ok := p.ApplicantById(applicantId)
	if !ok {
		return types.NewPreconditionFailed("applicant does not exist")
	}
	if !a.StickerLocked {
		return types.NewPreconditionFailed("ticket is not locked for exchange")
	}
	if a.StickerSold {
		return types.NewPreconditionFailed("ticket already exchanged")
	}
	if len(a.Tickets) == 0 {
		return types.NewPreconditionFailed("applicant has no ticket on offer")
	}
	ticket := a.Tickets[len(a.Tickets)-1]

	rail := payment.RailFor(ticket.Currency)
	gw, ok := c.gateways[rail]
	if !ok {
		return types.NewPreconditionFailed(fmt.Sprintf("no gateway configured for %s rail", rail))
	}

	amount := payment.Payout(ticket.Price)
	result, err := gw.TransferFunds(ctx, destination, amount, ticket.Currency)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewTimeout("payment transfer")
		}
		return types.NewExternalServiceFailure("payment transfer failed", err)
	}

	if !result.Ok {
		if result.InsufficientLiquidity() {
			return c.requestTopUp(ctx, p, a, rail, amount, ticket.Currency)
		}
		c.log.Printf("transfer for applicant %s rejected: %s", applicantId, result.Message)
		return types.NewExternalServiceFailure(result.Message, nil)
	}

	c.log.Printf("transfer %s settled for applicant %s (%.2f %s)",
		result.Data.TransactionId, applicantId, amount, ticket.Currency)

	if err := c.dispatcher.ExchangeTicket(partyId, applicantId); err != nil {
		// Funds have moved but the binding was rolled back. The lock
		// survives, so the creator can retry the recording step; the
		// rail side is reconciled by transaction id.
		c.store.PublishNotice(store.NoticeError,
			"payment settled but the exchange could not be recorded, retry shortly")
		return err
	}
	return nil
}

// requestTopUp handles a rail float shortage: the operator is asked to
// refill and the user is told the exchange is pending, not failed. The
// ticket stays locked so the same settlement can be retried.
func (c *Coordinator) requestTopUp(ctx context.Context, p *types.Party, a types.Applicant,
	rail payment.Rail, amount float64, currency string) error {
	req := notify.TopUpRequest{
		PartyId:     p.Id,
		ApplicantId: a.Id,
		Rail:        string(rail),
		Amount:      amount,
		Currency:    currency,
		RequestedAt: transport.Now(),
	}
	if err := c.notifier.NotifyTopUp(ctx, req); err != nil {
		c.log.Printf("failed to notify operator of %s shortage: %v", rail, err)
	}

	c.store.PublishNotice(store.NoticeWarning,
		"exchange is pending a balance top-up, it will be retried shortly")
	return types.NewExternalServiceFailure("insufficient liquidity on "+string(rail)+" rail", nil)
}

// StartPlaying attempts the playing transition, reporting how many
// tickets still block it when the gate refuses.
func (c *Coordinator) StartPlaying(partyId string) error {
	p := c.store.GetPartyById(partyId)
	if res := event.CanStartPlaying(p); !res.OK {
		if res.Remaining > 0 {
			c.store.PublishNotice(store.NoticeInfo, res.Reason)
		}
		return types.NewPreconditionFailed(res.Reason)
	}
	return c.dispatcher.StartPlaying(partyId)
}

// RemainingTickets reports how many accepted seats still need an
// exchanged ticket before the party may start.
func (c *Coordinator) RemainingTickets(partyId string) int {
	return event.RemainingTickets(c.store.GetPartyById(partyId))
}
