// Package dispatch converts user intents into an immediate optimistic
// store mutation plus an outbound socket emission, tracked by a
// correlation id until the matching server event resolves it.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/partyware/go-partysync/internal/event"
	"github.com/partyware/go-partysync/internal/stats"
	"github.com/partyware/go-partysync/internal/store"
	"github.com/partyware/go-partysync/internal/transport"
	"github.com/partyware/go-partysync/internal/types"
	"github.com/partyware/go-partysync/internal/upload"
)

// DefaultConfirmWindow bounds how long an optimistic action may sit
// unconfirmed before the user is told it is still pending.
const DefaultConfirmWindow = 10 * time.Second

type Dispatcher struct {
	log           *log.Logger
	store         *store.Store
	transport     transport.SocketTransport
	stats         stats.StatsProvider
	uploader      upload.Uploader
	confirmWindow time.Duration

	// generateId is replaceable in tests.
	generateId func() (string, error)

	inflightLock sync.Mutex
	inflight     map[string]*time.Timer
}

func NewDispatcher(logger *log.Logger, st *store.Store, tr transport.SocketTransport,
	su stats.StatsProvider, up upload.Uploader) *Dispatcher {
	su.RegisterMetric(stats.PendingActions)

	return &Dispatcher{
		log:           logger,
		store:         st,
		transport:     tr,
		stats:         su,
		uploader:      up,
		confirmWindow: DefaultConfirmWindow,
		generateId:    shortid.Generate,
		inflight:      make(map[string]*time.Timer),
	}
}

// SetConfirmWindow overrides the confirmation timeout.
func (d *Dispatcher) SetConfirmWindow(w time.Duration) {
	d.confirmWindow = w
}

// Stop cancels every outstanding confirmation timer.
func (d *Dispatcher) Stop() {
	d.inflightLock.Lock()
	defer d.inflightLock.Unlock()

	for cid, timer := range d.inflight {
		timer.Stop()
		delete(d.inflight, cid)
	}
}

// ResolveInflight cancels the confirmation timer for a correlation id.
// Called by the reconciler when the matching server event arrives;
// resolving an unknown or already-resolved id is a no-op.
func (d *Dispatcher) ResolveInflight(correlationId string) {
	d.inflightLock.Lock()
	defer d.inflightLock.Unlock()

	if timer, ok := d.inflight[correlationId]; ok {
		timer.Stop()
		delete(d.inflight, correlationId)
		d.stats.Decr(stats.PendingActions)
	}
}

// track arms the confirmation timeout for an emitted action.
func (d *Dispatcher) track(correlationId, intent string) {
	d.stats.Incr(stats.PendingActions)

	d.inflightLock.Lock()
	defer d.inflightLock.Unlock()
	d.inflight[correlationId] = time.AfterFunc(d.confirmWindow, func() {
		d.expire(correlationId, intent)
	})
}

// expire surfaces an unconfirmed action to the user. The optimistic
// record stays pending: at-least-once delivery means the confirming
// event may still arrive and resolve it.
func (d *Dispatcher) expire(correlationId, intent string) {
	d.inflightLock.Lock()
	_, tracked := d.inflight[correlationId]
	delete(d.inflight, correlationId)
	d.inflightLock.Unlock()

	if !tracked || !d.store.IsPending(correlationId) {
		return
	}

	d.log.Printf("no confirmation for %s (%s) within %s", intent, correlationId, d.confirmWindow)
	d.stats.Decr(stats.PendingActions)
	d.store.PublishNotice(store.NoticeWarning, intent+" is still pending confirmation")
}

// emit sends an event, rolling back the optimistic write on transport
// failure.
func (d *Dispatcher) emit(evt transport.Event, correlationId string) error {
	if err := d.transport.Emit(evt); err != nil {
		if correlationId != "" {
			d.store.Rollback(correlationId)
		}
		return types.NewTransportUnavailable(err)
	}
	return nil
}

func (d *Dispatcher) newCorrelationId() (string, error) {
	cid, err := d.generateId()
	if err != nil {
		return "", types.NewPreconditionFailed("could not generate correlation id")
	}
	return cid, nil
}

// CreateParty publishes a party creation intent. The returned id is
// local; the server assigns the canonical identity on party:created.
func (d *Dispatcher) CreateParty(p types.Party) (string, error) {
	cid, err := d.newCorrelationId()
	if err != nil {
		return "", err
	}
	localId, err := d.generateId()
	if err != nil {
		return "", types.NewPreconditionFailed("could not generate party id")
	}

	p.Id = localId
	p.CreatorId = d.store.UserId()
	p.Status = types.PartyOpening
	p.Applicants = nil
	if p.OpeningTime.IsZero() {
		p.OpeningTime = transport.Now()
	}
	p.Pending = true
	p.CorrelationId = cid
	d.store.UpsertParty(p)

	evt, err := transport.NewEvent(transport.EventPartyCreating, cid, transport.PartyPayload{Party: p})
	if err != nil {
		d.store.Rollback(cid)
		return "", err
	}
	if err := d.emit(evt, cid); err != nil {
		return "", err
	}

	d.track(cid, "create party")
	return localId, nil
}

// Apply publishes a join request for the session user.
func (d *Dispatcher) Apply(partyId, message string) error {
	p := d.store.GetPartyById(partyId)
	if res := event.CanApply(p, d.store.UserId()); !res.OK {
		return types.NewPreconditionFailed(res.Reason)
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}
	localId, err := d.generateId()
	if err != nil {
		return types.NewPreconditionFailed("could not generate applicant id")
	}

	a := types.Applicant{
		Id:            localId,
		PartyId:       partyId,
		ApplierId:     d.store.UserId(),
		Message:       message,
		Status:        types.ApplicantPending,
		AppliedAt:     transport.Now(),
		Pending:       true,
		CorrelationId: cid,
	}
	d.store.UpsertApplicant(partyId, a)

	evt, err := transport.NewEvent(transport.EventCreatingApplicant, cid,
		transport.ApplicantPayload{PartyId: partyId, Applicant: a})
	if err != nil {
		d.store.Rollback(cid)
		return err
	}
	if err := d.emit(evt, cid); err != nil {
		return err
	}

	d.track(cid, "apply to party")
	return nil
}

// Accept moves a pending applicant to accepted. Only the party creator
// may accept.
func (d *Dispatcher) Accept(partyId, applicantId string) error {
	return d.judgeApplicant(partyId, applicantId, types.ApplicantAccepted)
}

// Decline moves a pending applicant to declined. Only the party
// creator may decline.
func (d *Dispatcher) Decline(partyId, applicantId string) error {
	return d.judgeApplicant(partyId, applicantId, types.ApplicantDeclined)
}

func (d *Dispatcher) judgeApplicant(partyId, applicantId string, verdict types.ApplicantStatus) error {
	p := d.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}
	if p.CreatorId != d.store.UserId() {
		return types.NewPreconditionFailed("only the party creator may accept or decline")
	}

	a, ok := p.ApplicantById(applicantId)
	if !ok {
		return types.NewPreconditionFailed("applicant does not exist")
	}

	var res event.Result
	var name, intent string
	if verdict == types.ApplicantAccepted {
		res, name, intent = event.CanAccept(&a), transport.EventApplicantAccepted, "accept applicant"
	} else {
		res, name, intent = event.CanDecline(&a), transport.EventApplicantDeclined, "decline applicant"
	}
	if !res.OK {
		return types.NewPreconditionFailed(res.Reason)
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}

	a.Status = verdict
	a.Pending = true
	a.CorrelationId = cid
	d.store.UpsertApplicant(partyId, a)

	evt, err := transport.NewEvent(name, cid, transport.ApplicantPayload{PartyId: partyId, Applicant: a})
	if err != nil {
		d.store.Rollback(cid)
		return err
	}
	if err := d.emit(evt, cid); err != nil {
		return err
	}

	d.track(cid, intent)
	return nil
}

// SendTicket issues a ticket on the session user's own applicant record
// and locks the binding until payment settles or the ticket is
// released.
func (d *Dispatcher) SendTicket(partyId string, ticket types.Ticket) error {
	p := d.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}

	a, ok := p.ApplicantByApplier(d.store.UserId())
	if !ok {
		return types.NewPreconditionFailed("user has not applied to this party")
	}
	if a.Status != types.ApplicantAccepted {
		return types.NewPreconditionFailed("applicant is not accepted")
	}
	if a.StickerSold {
		return types.NewPreconditionFailed("ticket already exchanged")
	}
	if a.StickerLocked {
		return types.NewPreconditionFailed("a ticket is already locked for exchange")
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}
	ticketId, err := d.generateId()
	if err != nil {
		return types.NewPreconditionFailed("could not generate ticket id")
	}
	ticket.Id = ticketId

	locked := true
	d.store.UpsertTicketBinding(partyId, a.Id, store.TicketBindingPatch{
		Locked:        &locked,
		AddTicket:     &ticket,
		Pending:       true,
		CorrelationId: cid,
	})

	evt, err := transport.NewEvent(transport.EventStickerSendToOwner, cid,
		transport.TicketPayload{PartyId: partyId, ApplicantId: a.Id, Ticket: ticket})
	if err != nil {
		d.store.Rollback(cid)
		return err
	}
	if err := d.emit(evt, cid); err != nil {
		return err
	}

	d.track(cid, "send ticket")
	return nil
}

// ReleaseTicket clears the lock on the session user's own ticket
// binding, signalling the creator that the slot is open again. Only the
// owning applicant may release.
func (d *Dispatcher) ReleaseTicket(partyId string) error {
	p := d.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}

	a, ok := p.ApplicantByApplier(d.store.UserId())
	if !ok {
		return types.NewPreconditionFailed("user has not applied to this party")
	}
	if !a.StickerLocked {
		return types.NewPreconditionFailed("no locked ticket to release")
	}
	if a.StickerSold {
		return types.NewPreconditionFailed("ticket already exchanged")
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}

	unlocked := false
	d.store.UpsertTicketBinding(partyId, a.Id, store.TicketBindingPatch{
		Locked:        &unlocked,
		Pending:       true,
		CorrelationId: cid,
	})

	evt, err := transport.NewEvent(transport.EventStickerRelease, cid,
		transport.TicketBindingPayload{PartyId: partyId, ApplicantId: a.Id, Locked: false, Sold: false})
	if err != nil {
		d.store.Rollback(cid)
		return err
	}
	if err := d.emit(evt, cid); err != nil {
		return err
	}

	d.track(cid, "release ticket")
	return nil
}

// ExchangeTicket marks an applicant's ticket as sold and unlocked after
// payment has settled, and notifies the owner. Called by the exchange
// coordinator on behalf of the party creator.
func (d *Dispatcher) ExchangeTicket(partyId, applicantId string) error {
	p := d.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}
	if p.CreatorId != d.store.UserId() {
		return types.NewPreconditionFailed("only the party creator may exchange a ticket")
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

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}

	sold, unlocked := true, false
	d.store.UpsertTicketBinding(partyId, applicantId, store.TicketBindingPatch{
		Locked:        &unlocked,
		Sold:          &sold,
		Pending:       true,
		CorrelationId: cid,
	})

	evt, err := transport.NewEvent(transport.EventStickerApproved, cid,
		transport.TicketBindingPayload{PartyId: partyId, ApplicantId: applicantId, Locked: false, Sold: true})
	if err != nil {
		d.store.Rollback(cid)
		return err
	}
	if err := d.emit(evt, cid); err != nil {
		return err
	}

	d.track(cid, "exchange ticket")
	return nil
}

// StartPlaying transitions the party to playing if the paid-seat gate
// allows it.
func (d *Dispatcher) StartPlaying(partyId string) error {
	return d.transitionParty(partyId, types.PartyPlaying, transport.EventPartyPlaying, "start playing")
}

// FinishEvent transitions the party to finished once at least one
// finish approval is recorded.
func (d *Dispatcher) FinishEvent(partyId string) error {
	return d.transitionParty(partyId, types.PartyFinished, transport.EventPartyFinished, "finish party")
}

// CancelEvent cancels the party. Succeeds only while no applicant has
// been accepted; otherwise it performs no mutation and no emission.
func (d *Dispatcher) CancelEvent(partyId string) error {
	return d.transitionParty(partyId, types.PartyCancelled, transport.EventPartyCancelled, "cancel party")
}

func (d *Dispatcher) transitionParty(partyId string, next types.PartyStatus, name, intent string) error {
	p := d.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}
	if p.CreatorId != d.store.UserId() {
		return types.NewPreconditionFailed("only the party creator may change party status")
	}
	if next == types.PartyFinished {
		if res := event.CanFinish(p); !res.OK {
			return types.NewPreconditionFailed(res.Reason)
		}
	}
	if res := event.CanTransition(p, next); !res.OK {
		return types.NewPreconditionFailed(res.Reason)
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}

	cp := *p
	cp.Applicants = append([]types.Applicant(nil), p.Applicants...)
	cp.Status = next
	cp.Pending = true
	cp.CorrelationId = cid
	d.store.UpsertParty(cp)

	evt, err := transport.NewEvent(name, cid,
		transport.PartyStatusPayload{PartyId: partyId, Status: next})
	if err != nil {
		d.store.Rollback(cid)
		return err
	}
	if err := d.emit(evt, cid); err != nil {
		return err
	}

	d.track(cid, intent)
	return nil
}

// RequestFinishApproval asks participants to approve finishing the
// party. Nothing changes locally until approvals arrive.
func (d *Dispatcher) RequestFinishApproval(partyId string) error {
	p := d.store.GetPartyById(partyId)
	if p == nil {
		return types.NewPreconditionFailed("party does not exist")
	}
	if p.CreatorId != d.store.UserId() {
		return types.NewPreconditionFailed("only the party creator may request finish approval")
	}
	if res := event.CanRequestFinishApproval(p); !res.OK {
		return types.NewPreconditionFailed(res.Reason)
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return err
	}

	evt, err := transport.NewEvent(transport.EventRequestFinishApprove, cid,
		transport.PartyStatusPayload{PartyId: partyId, Status: p.Status})
	if err != nil {
		return err
	}
	return d.emit(evt, "")
}

// SendMessage appends an optimistic text message and emits it.
func (d *Dispatcher) SendMessage(receiverId int, content string) (types.Message, error) {
	return d.sendMessage(receiverId, content, nil, transport.EventMessageSendText)
}

// SendFiles uploads the attachments through the media collaborator,
// then sends the resulting URLs as a file message. The upload is the
// only part of the action that blocks.
func (d *Dispatcher) SendFiles(ctx context.Context, receiverId int, items []upload.Item) (types.Message, error) {
	urls, err := d.uploader.UploadMany(ctx, items)
	if err != nil {
		return types.Message{}, types.NewExternalServiceFailure("media upload failed", err)
	}
	return d.sendMessage(receiverId, "", urls, transport.EventMessageSendFiles)
}

func (d *Dispatcher) sendMessage(receiverId int, content string, fileUrls []string, name string) (types.Message, error) {
	if receiverId == d.store.UserId() {
		return types.Message{}, types.NewPreconditionFailed("cannot message yourself")
	}
	if content == "" && len(fileUrls) == 0 {
		return types.Message{}, types.NewPreconditionFailed("message is empty")
	}

	cid, err := d.newCorrelationId()
	if err != nil {
		return types.Message{}, err
	}
	localId, err := d.generateId()
	if err != nil {
		return types.Message{}, types.NewPreconditionFailed("could not generate message id")
	}

	m := types.Message{
		Id:            localId,
		SenderId:      d.store.UserId(),
		ReceiverId:    receiverId,
		Content:       content,
		FileUrls:      fileUrls,
		Status:        types.MessageSent,
		Timestamp:     transport.Now(),
		Pending:       true,
		CorrelationId: cid,
	}
	d.store.AppendMessage(m)

	evt, err := transport.NewEvent(name, cid, transport.MessagePayload{Message: m})
	if err != nil {
		d.store.Rollback(cid)
		return types.Message{}, err
	}
	if err := d.emit(evt, cid); err != nil {
		return types.Message{}, err
	}

	d.track(cid, "send message")
	return m, nil
}

// MarkRead advances a single inbound message to read. The receipt
// carries no correlation id, so it is emitted first and the local
// status advances only once the server has been told; a failed
// emission leaves nothing to roll back.
func (d *Dispatcher) MarkRead(messageId string) error {
	m := d.store.GetMessage(messageId)
	if m == nil {
		return types.NewPreconditionFailed("message does not exist")
	}
	if m.SenderId == d.store.UserId() {
		return types.NewPreconditionFailed("cannot mark own message read")
	}

	evt, err := transport.NewEvent(transport.EventMessageRead, "",
		transport.ReadPayload{MessageId: messageId, ReaderId: d.store.UserId()})
	if err != nil {
		return err
	}
	if err := d.emit(evt, ""); err != nil {
		return err
	}

	d.store.AdvanceMessageStatus(messageId, types.MessageRead)
	return nil
}

// MarkConversationRead batches a read receipt for every unread inbound
// message from the peer. Like MarkRead, the emission goes out first;
// the local projection advances on success and is later reconciled by
// the authoritative broadcast.
func (d *Dispatcher) MarkConversationRead(peerId int) error {
	ids := d.store.UnreadInbound(peerId)
	if len(ids) == 0 {
		return nil
	}

	evt, err := transport.NewEvent(transport.EventMessageMultiRead, "",
		transport.MultiReadPayload{MessageIds: ids, ReaderId: d.store.UserId(), PeerId: peerId})
	if err != nil {
		return err
	}
	if err := d.emit(evt, ""); err != nil {
		return err
	}

	for _, id := range ids {
		d.store.AdvanceMessageStatus(id, types.MessageRead)
	}
	return nil
}

// SetTyping emits a typing or stop-typing signal for a conversation.
// The local user's own typing state is never stored; only remote state
// arrives through the reconciler.
func (d *Dispatcher) SetTyping(peerId int, active bool) error {
	name := transport.EventTyping
	if !active {
		name = transport.EventStopTyping
	}

	evt, err := transport.NewEvent(name, "",
		transport.TypingPayload{UserId: d.store.UserId(), PeerId: peerId})
	if err != nil {
		return err
	}
	return d.emit(evt, "")
}
