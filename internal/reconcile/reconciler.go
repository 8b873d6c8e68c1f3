// Package reconcile applies inbound server events to the local store.
// It is the single subscription surface over the socket transport: it
// confirms or overrides optimistic writes by correlation id or natural
// key, and applies broadcasts about other actors directly. Server state
// always wins a conflict.
package reconcile

import (
	"log"

	"github.com/partyware/go-partysync/internal/database"
	"github.com/partyware/go-partysync/internal/stats"
	"github.com/partyware/go-partysync/internal/store"
	"github.com/partyware/go-partysync/internal/transport"
	"github.com/partyware/go-partysync/internal/types"
)

// InflightResolver cancels the confirmation timeout of a dispatched
// action once its server event arrives.
type InflightResolver interface {
	ResolveInflight(correlationId string)
}

// TypingSink receives remote typing toggles. The chat engine implements
// it and owns the safety timers.
type TypingSink interface {
	TypingReceived(userId int)
	StopTypingReceived(userId int)
}

type Reconciler struct {
	log      *log.Logger
	store    *store.Store
	tr       transport.SocketTransport
	resolver InflightResolver
	typing   TypingSink
	archive  database.ArchiveRepository
	stats    stats.StatsProvider
	done     chan struct{}
}

func NewReconciler(logger *log.Logger, st *store.Store, tr transport.SocketTransport,
	resolver InflightResolver, typing TypingSink, archive database.ArchiveRepository,
	su stats.StatsProvider) *Reconciler {
	su.RegisterMetric(stats.ServerConflicts)
	su.RegisterMetric(stats.ReconciledEvents)
	su.RegisterMetric(stats.ArchiveWrites)

	return &Reconciler{
		log:      logger,
		store:    st,
		tr:       tr,
		resolver: resolver,
		typing:   typing,
		archive:  archive,
		stats:    su,
		done:     make(chan struct{}),
	}
}

// Run drains the transport's inbound channel until it closes. Events
// are applied one at a time in arrival order, which preserves the
// server's per-entity ordering.
func (r *Reconciler) Run() {
	for evt := range r.tr.Events() {
		r.apply(evt)
	}
	close(r.done)
}

// Done is closed once the transport's event stream has ended.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

func (r *Reconciler) apply(evt transport.Event) {
	r.stats.Incr(stats.ReconciledEvents)

	switch evt.Name {
	case transport.EventPartyCreated:
		r.handlePartyCreated(evt)
	case transport.EventApplicantCreated:
		r.handleApplicantCreated(evt)
	case transport.EventAcceptedApplicant, transport.EventApplicantAccepted:
		r.handleApplicantJudged(evt, types.ApplicantAccepted)
	case transport.EventApplicantDeclined:
		r.handleApplicantJudged(evt, types.ApplicantDeclined)
	case transport.EventStickerSendToOwner:
		r.handleStickerSent(evt)
	case transport.EventStickerApproved, transport.EventStickerRelease:
		r.handleBindingUpdate(evt)
	case transport.EventPartyPlaying:
		r.handlePartyStatus(evt, types.PartyPlaying)
	case transport.EventPartyFinished:
		r.handlePartyStatus(evt, types.PartyFinished)
	case transport.EventPartyFinishApproved:
		r.handleFinishApproved(evt)
	case transport.EventPartyCancelled:
		r.handlePartyCancelled(evt)
	case transport.EventMessageSendText, transport.EventMessageSendFiles:
		r.handleMessage(evt)
	case transport.EventMessageRead:
		r.handleRead(evt)
	case transport.EventMessageMultiRead:
		r.handleMultiRead(evt)
	case transport.EventTypingReceived:
		r.handleTyping(evt, true)
	case transport.EventStopTypingReceived:
		r.handleTyping(evt, false)
	default:
		r.log.Printf("ignoring unknown event %q", evt.Name)
	}
}

func (r *Reconciler) handlePartyCreated(evt transport.Event) {
	var pl transport.PartyPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("party:created: bad payload:", err)
		return
	}

	if evt.CorrelationId != "" && r.store.ResolveParty(evt.CorrelationId, pl.Party) {
		r.resolver.ResolveInflight(evt.CorrelationId)
	} else {
		r.store.UpsertParty(pl.Party)
	}

	r.archiveParty(pl.Party.Id)
}

func (r *Reconciler) handleApplicantCreated(evt transport.Event) {
	var pl transport.ApplicantPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("applicant:created: bad payload:", err)
		return
	}

	if evt.CorrelationId != "" && r.store.ResolveApplicant(evt.CorrelationId, pl.PartyId, pl.Applicant) {
		r.resolver.ResolveInflight(evt.CorrelationId)
	} else {
		r.store.UpsertApplicant(pl.PartyId, pl.Applicant)
	}

	r.archiveApplicant(pl.PartyId, pl.Applicant.Id)
}

// handleApplicantJudged reconciles an accept or decline broadcast. If a
// local optimistic judgement under a different correlation id exists,
// another actor won the race: the local write is discarded and the
// server's version applied.
func (r *Reconciler) handleApplicantJudged(evt transport.Event, verdict types.ApplicantStatus) {
	var pl transport.ApplicantPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Printf("%s: bad payload: %v", evt.Name, err)
		return
	}

	a := pl.Applicant
	a.Status = verdict

	if evt.CorrelationId != "" && r.store.ResolveApplicant(evt.CorrelationId, pl.PartyId, a) {
		r.resolver.ResolveInflight(evt.CorrelationId)
		r.archiveApplicant(pl.PartyId, a.Id)
		return
	}

	if p := r.store.GetPartyById(pl.PartyId); p != nil {
		local, ok := p.ApplicantById(a.Id)
		if !ok {
			local, ok = p.ApplicantByApplier(a.ApplierId)
		}
		if ok && local.Pending && local.CorrelationId != evt.CorrelationId {
			r.stats.Incr(stats.ServerConflicts)
			r.store.Discard(local.CorrelationId)
			r.resolver.ResolveInflight(local.CorrelationId)
			r.store.PublishNotice(store.NoticeWarning, "applicant was already resolved by another device")
		}
	}

	r.store.UpsertApplicant(pl.PartyId, a)
	r.archiveApplicant(pl.PartyId, a.Id)
}

func (r *Reconciler) handleStickerSent(evt transport.Event) {
	var pl transport.TicketPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("sticker:send-to-owner: bad payload:", err)
		return
	}

	if evt.CorrelationId != "" && r.store.ResolveBinding(evt.CorrelationId) {
		r.resolver.ResolveInflight(evt.CorrelationId)
	}

	locked := true
	r.store.UpsertTicketBinding(pl.PartyId, pl.ApplicantId, store.TicketBindingPatch{
		Locked:    &locked,
		AddTicket: &pl.Ticket,
	})

	r.archiveApplicant(pl.PartyId, pl.ApplicantId)
}

func (r *Reconciler) handleBindingUpdate(evt transport.Event) {
	var pl transport.TicketBindingPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Printf("%s: bad payload: %v", evt.Name, err)
		return
	}

	if evt.CorrelationId != "" && r.store.ResolveBinding(evt.CorrelationId) {
		r.resolver.ResolveInflight(evt.CorrelationId)
	} else if cid, busy := r.store.HasPending(store.ApplicantKey(pl.PartyId, pl.ApplicantId)); busy && cid != evt.CorrelationId {
		// Another actor touched the binding first; server wins.
		r.stats.Incr(stats.ServerConflicts)
		r.store.Discard(cid)
		r.resolver.ResolveInflight(cid)
		r.store.PublishNotice(store.NoticeWarning, "ticket was updated by another participant")
	}

	locked, sold := pl.Locked, pl.Sold
	r.store.UpsertTicketBinding(pl.PartyId, pl.ApplicantId, store.TicketBindingPatch{
		Locked: &locked,
		Sold:   &sold,
	})

	r.archiveApplicant(pl.PartyId, pl.ApplicantId)
}

func (r *Reconciler) handlePartyStatus(evt transport.Event, status types.PartyStatus) {
	var pl transport.PartyStatusPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Printf("%s: bad payload: %v", evt.Name, err)
		return
	}

	r.resolvePartyPending(evt.CorrelationId, pl.PartyId)
	r.store.SetPartyStatus(pl.PartyId, status)
	r.archiveParty(pl.PartyId)
}

func (r *Reconciler) handlePartyCancelled(evt transport.Event) {
	var pl transport.PartyStatusPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("party:cancelled: bad payload:", err)
		return
	}

	r.resolvePartyPending(evt.CorrelationId, pl.PartyId)
	r.store.RemoveParty(pl.PartyId)

	if r.archive != nil {
		if err := r.archive.DeleteParty(pl.PartyId); err != nil {
			r.log.Println("archive delete party:", err)
		}
	}
}

// resolvePartyPending settles whichever optimistic status write exists
// on the party: the matching one is confirmed, a foreign one is a
// conflict the server overrides.
func (r *Reconciler) resolvePartyPending(correlationId, partyId string) {
	if correlationId != "" && r.store.IsPending(correlationId) {
		r.store.Discard(correlationId)
		r.resolver.ResolveInflight(correlationId)
		return
	}

	if p := r.store.GetPartyById(partyId); p != nil && p.Pending {
		r.stats.Incr(stats.ServerConflicts)
		r.store.Discard(p.CorrelationId)
		r.resolver.ResolveInflight(p.CorrelationId)
		r.store.PublishNotice(store.NoticeWarning, "party was updated by another device")
	}
}

func (r *Reconciler) handleFinishApproved(evt transport.Event) {
	var pl transport.FinishApprovalPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("party:finish-approved: bad payload:", err)
		return
	}

	r.store.AddFinishApproval(pl.PartyId, pl.ApproverId)
	r.archiveParty(pl.PartyId)
}

func (r *Reconciler) handleMessage(evt transport.Event) {
	var pl transport.MessagePayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Printf("%s: bad payload: %v", evt.Name, err)
		return
	}

	m := pl.Message
	if evt.CorrelationId != "" && r.store.ResolveMessage(evt.CorrelationId, m) {
		r.resolver.ResolveInflight(evt.CorrelationId)
		r.archiveMessage(m)
		return
	}

	// An inbound message has, by arrival, been delivered to us.
	if m.ReceiverId == r.store.UserId() && m.Status.Rank() < types.MessageDelivered.Rank() {
		m.Status = types.MessageDelivered
	}

	r.store.AppendMessage(m)
	r.store.AdvanceMessageStatus(m.Id, m.Status)
	r.archiveMessage(m)
}

func (r *Reconciler) handleRead(evt transport.Event) {
	var pl transport.ReadPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("message:read: bad payload:", err)
		return
	}

	r.store.AdvanceMessageStatus(pl.MessageId, types.MessageRead)
	r.archiveMessageStatus(pl.MessageId, types.MessageRead)
}

func (r *Reconciler) handleMultiRead(evt transport.Event) {
	var pl transport.MultiReadPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Println("message:multiple-update-read: bad payload:", err)
		return
	}

	for _, id := range pl.MessageIds {
		r.store.AdvanceMessageStatus(id, types.MessageRead)
		r.archiveMessageStatus(id, types.MessageRead)
	}
}

func (r *Reconciler) handleTyping(evt transport.Event, active bool) {
	var pl transport.TypingPayload
	if err := evt.Decode(&pl); err != nil {
		r.log.Printf("%s: bad payload: %v", evt.Name, err)
		return
	}

	if active {
		r.typing.TypingReceived(pl.UserId)
	} else {
		r.typing.StopTypingReceived(pl.UserId)
	}
}

func (r *Reconciler) archiveParty(partyId string) {
	if r.archive == nil {
		return
	}
	p := r.store.GetPartyById(partyId)
	if p == nil {
		return
	}
	if err := r.archive.SaveParty(*p); err != nil {
		r.log.Println("archive party:", err)
		return
	}
	r.stats.Incr(stats.ArchiveWrites)
}

func (r *Reconciler) archiveApplicant(partyId, applicantId string) {
	if r.archive == nil {
		return
	}
	a, ok := r.store.GetApplicant(partyId, applicantId)
	if !ok {
		return
	}
	if err := r.archive.SaveApplicant(partyId, a); err != nil {
		r.log.Println("archive applicant:", err)
		return
	}
	r.stats.Incr(stats.ArchiveWrites)
}

func (r *Reconciler) archiveMessage(m types.Message) {
	if r.archive == nil {
		return
	}
	if err := r.archive.SaveMessage(m); err != nil {
		r.log.Println("archive message:", err)
		return
	}
	r.stats.Incr(stats.ArchiveWrites)
}

func (r *Reconciler) archiveMessageStatus(messageId string, status types.MessageStatus) {
	if r.archive == nil {
		return
	}
	if err := r.archive.UpdateMessageStatus(messageId, status); err != nil {
		r.log.Println("archive message status:", err)
		return
	}
	r.stats.Incr(stats.ArchiveWrites)
}
