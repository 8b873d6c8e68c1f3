// Package store holds the authoritative local snapshot of parties,
// applicants, messages and typing state. It is the single shared
// mutable resource of the sync engine: only the action dispatcher and
// the server event reconciler write to it, everything else reads
// through selectors or subscribes to change notifications.
package store

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/partyware/go-partysync/internal/types"
)

type ChangeKind string

const (
	ChangeParty     ChangeKind = "party"
	ChangeApplicant ChangeKind = "applicant"
	ChangeMessage   ChangeKind = "message"
	ChangeTyping    ChangeKind = "typing"
	ChangeNotice    ChangeKind = "notice"
)

// ChangeEvent tells a subscriber which entity changed. Notices travel
// on the same channel so the UI has a single surface to watch.
type ChangeEvent struct {
	Kind        ChangeKind
	PartyId     string
	ApplicantId string
	MessageId   string
	PeerId      int
	Notice      *Notice
}

// Notice is a user-visible notification (toast-equivalent).
type Notice struct {
	Level string
	Text  string
}

const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
	NoticeError   = "error"
)

// pendingEntry tracks one unresolved optimistic write: the entity it
// touched and how to undo it.
type pendingEntry struct {
	key     string
	restore func()
}

// queuedWrite is an optimistic write held back until the previous
// write on the same entity resolves. Keyed by its correlation id so a
// rollback can cancel it before it ever applies.
type queuedWrite struct {
	correlationId string
	apply         func()
}

type Store struct {
	log    *log.Logger
	userId int

	mu       sync.Mutex
	parties  map[string]*types.Party
	convos   map[int][]*types.Message
	msgIndex map[string]*types.Message
	typing   map[int]types.TypingState

	// pending is keyed by correlation id; pendingKeys marks entity keys
	// with an unresolved optimistic write so a second local intent on
	// the same entity is queued behind the first's resolution.
	pending     map[string]pendingEntry
	pendingKeys map[string]string
	queued      map[string][]queuedWrite

	subscribers map[chan ChangeEvent]struct{}
	closed      bool
}

// NewStore creates a store for one user session. userId identifies the
// session owner and keys conversations by the other participant.
func NewStore(logger *log.Logger, userId int) *Store {
	return &Store{
		log:         logger,
		userId:      userId,
		parties:     make(map[string]*types.Party),
		convos:      make(map[int][]*types.Message),
		msgIndex:    make(map[string]*types.Message),
		typing:      make(map[int]types.TypingState),
		pending:     make(map[string]pendingEntry),
		pendingKeys: make(map[string]string),
		queued:      make(map[string][]queuedWrite),
		subscribers: make(map[chan ChangeEvent]struct{}),
	}
}

// UserId returns the session owner.
func (s *Store) UserId() int {
	return s.userId
}

func PartyKey(partyId string) string {
	return "party/" + partyId
}

func ApplicantKey(partyId, applicantId string) string {
	return fmt.Sprintf("applicant/%s/%s", partyId, applicantId)
}

func MessageKey(messageId string) string {
	return "message/" + messageId
}

// Subscribe registers a change listener. The returned cancel func must
// be called when the subscriber goes away.
func (s *Store) Subscribe() (<-chan ChangeEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ChangeEvent, 256)
	s.subscribers[ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close tears the store down at logout.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

// notify must be called with the lock held.
func (s *Store) notify(evt ChangeEvent) {
	for ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			s.log.Println("subscriber channel full, dropping change event")
		}
	}
}

// PublishNotice pushes a user-visible notification to subscribers.
func (s *Store) PublishNotice(level, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify(ChangeEvent{Kind: ChangeNotice, Notice: &Notice{Level: level, Text: text}})
}

// UpsertParty writes a party record. An authoritative write (Pending
// false) fully replaces whatever is stored. An optimistic write is
// registered under its correlation id; if the entity already has an
// unresolved optimistic write the new one is queued behind it.
func (s *Store) UpsertParty(p types.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertParty(p)
}

func (s *Store) upsertParty(p types.Party) {
	key := PartyKey(p.Id)

	if p.Pending {
		if _, busy := s.pendingKeys[key]; busy {
			s.enqueue(key, p.CorrelationId, func() { s.upsertParty(p) })
			return
		}
		prev := s.snapshotParty(p.Id)
		s.registerPending(p.CorrelationId, key, prev)
	}

	cp := p
	s.parties[p.Id] = &cp
	s.notify(ChangeEvent{Kind: ChangeParty, PartyId: p.Id})
}

// UpsertApplicant writes an applicant record onto its party, replacing
// any record with the same applicant id or applier id.
func (s *Store) UpsertApplicant(partyId string, a types.Applicant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertApplicant(partyId, a)
}

func (s *Store) upsertApplicant(partyId string, a types.Applicant) {
	p, ok := s.parties[partyId]
	if !ok {
		s.log.Printf("upsert applicant: unknown party %q", partyId)
		return
	}

	key := ApplicantKey(partyId, a.Id)
	if a.Pending {
		if _, busy := s.pendingKeys[key]; busy {
			s.enqueue(key, a.CorrelationId, func() { s.upsertApplicant(partyId, a) })
			return
		}
		prev := s.snapshotApplicant(partyId, a.Id, a.ApplierId)
		s.registerPending(a.CorrelationId, key, prev)
	}

	a.PartyId = partyId
	replaced := false
	for i := range p.Applicants {
		if p.Applicants[i].Id == a.Id || p.Applicants[i].ApplierId == a.ApplierId {
			p.Applicants[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		p.Applicants = append(p.Applicants, a)
	}

	s.notify(ChangeEvent{Kind: ChangeApplicant, PartyId: partyId, ApplicantId: a.Id})
}

// TicketBindingPatch is a field-level patch of the ticket binding state
// on an applicant. Nil fields are left untouched.
type TicketBindingPatch struct {
	Locked        *bool
	Sold          *bool
	AddTicket     *types.Ticket
	Pending       bool
	CorrelationId string
}

// UpsertTicketBinding patches the lock/sold flags and ticket list of an
// applicant.
func (s *Store) UpsertTicketBinding(partyId, applicantId string, patch TicketBindingPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertTicketBinding(partyId, applicantId, patch)
}

func (s *Store) upsertTicketBinding(partyId, applicantId string, patch TicketBindingPatch) {
	p, ok := s.parties[partyId]
	if !ok {
		s.log.Printf("upsert ticket binding: unknown party %q", partyId)
		return
	}

	var a *types.Applicant
	for i := range p.Applicants {
		if p.Applicants[i].Id == applicantId {
			a = &p.Applicants[i]
			break
		}
	}
	if a == nil {
		s.log.Printf("upsert ticket binding: unknown applicant %q on party %q", applicantId, partyId)
		return
	}

	key := ApplicantKey(partyId, applicantId)
	if patch.Pending {
		if _, busy := s.pendingKeys[key]; busy {
			s.enqueue(key, patch.CorrelationId, func() { s.upsertTicketBinding(partyId, applicantId, patch) })
			return
		}
		prev := s.snapshotApplicant(partyId, applicantId, a.ApplierId)
		s.registerPending(patch.CorrelationId, key, prev)
		a.Pending = true
		a.CorrelationId = patch.CorrelationId
	} else if _, busy := s.pendingKeys[key]; !busy {
		// Authoritative patch with no outstanding optimistic write left
		// on the entity settles the record.
		a.Pending = false
		a.CorrelationId = ""
	}

	if patch.Locked != nil {
		a.StickerLocked = *patch.Locked
	}
	if patch.Sold != nil {
		a.StickerSold = *patch.Sold
	}
	if patch.AddTicket != nil {
		// Duplicate broadcasts must not grow the ticket list.
		dup := false
		for _, t := range a.Tickets {
			if t.Id == patch.AddTicket.Id {
				dup = true
				break
			}
		}
		if !dup {
			a.Tickets = append(a.Tickets, *patch.AddTicket)
		}
	}

	s.notify(ChangeEvent{Kind: ChangeApplicant, PartyId: partyId, ApplicantId: applicantId})
}

// SetPartyStatus applies an authoritative status change, clearing any
// pending marker on the party record.
func (s *Store) SetPartyStatus(partyId string, status types.PartyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parties[partyId]
	if !ok {
		return
	}
	p.Status = status
	p.Pending = false
	p.CorrelationId = ""
	s.notify(ChangeEvent{Kind: ChangeParty, PartyId: partyId})
}

// RemoveParty deletes a party and, by composition, its applicants and
// tickets. Any optimistic write still registered or queued against the
// removed entities is purged with them; there is nothing left to
// restore or apply to. Conversations are owned independently and
// survive.
func (s *Store) RemoveParty(partyId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parties[partyId]; !ok {
		return
	}
	delete(s.parties, partyId)

	s.purgeEntity(PartyKey(partyId))
	prefix := "applicant/" + partyId + "/"
	for key := range s.pendingKeys {
		if strings.HasPrefix(key, prefix) {
			s.purgeEntity(key)
		}
	}
	for key := range s.queued {
		if strings.HasPrefix(key, prefix) {
			delete(s.queued, key)
		}
	}

	s.notify(ChangeEvent{Kind: ChangeParty, PartyId: partyId})
}

// AddFinishApproval records an approver on the party. Repeated
// approvals from the same user are collapsed.
func (s *Store) AddFinishApproval(partyId string, approverId int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parties[partyId]
	if !ok {
		return
	}
	for _, id := range p.FinishApprovals {
		if id == approverId {
			return
		}
	}
	p.FinishApprovals = append(p.FinishApprovals, approverId)
	s.notify(ChangeEvent{Kind: ChangeParty, PartyId: partyId})
}

// AppendMessage adds a message to its conversation. Duplicate ids are
// ignored, which makes repeated delivery of the same broadcast a no-op.
func (s *Store) AppendMessage(m types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendMessage(m)
}

func (s *Store) appendMessage(m types.Message) {
	if _, dup := s.msgIndex[m.Id]; dup {
		return
	}

	if m.Pending {
		key := MessageKey(m.Id)
		id := m.Id
		s.registerPending(m.CorrelationId, key, func() { s.removeMessage(id) })
	}

	peer := s.peerOf(m)
	cp := m
	s.convos[peer] = append(s.convos[peer], &cp)
	s.msgIndex[m.Id] = &cp
	s.notify(ChangeEvent{Kind: ChangeMessage, MessageId: m.Id, PeerId: peer})
}

func (s *Store) peerOf(m types.Message) int {
	if m.SenderId == s.userId {
		return m.ReceiverId
	}
	return m.SenderId
}

func (s *Store) removeMessage(id string) {
	m, ok := s.msgIndex[id]
	if !ok {
		return
	}
	delete(s.msgIndex, id)

	peer := s.peerOf(*m)
	msgs := s.convos[peer]
	for i, cand := range msgs {
		if cand.Id == id {
			s.convos[peer] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
}

// AdvanceMessageStatus moves a message's delivery status forward. A
// regression (read back to sent) is rejected silently.
func (s *Store) AdvanceMessageStatus(messageId string, status types.MessageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgIndex[messageId]
	if !ok {
		return
	}
	if status.Rank() <= m.Status.Rank() {
		return
	}

	m.Status = status
	s.notify(ChangeEvent{Kind: ChangeMessage, MessageId: messageId, PeerId: s.peerOf(*m)})
}

// SetTypingState records that a peer is composing. The deadline is a
// safety bound enforced by the chat engine's timers.
func (s *Store) SetTypingState(ts types.TypingState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.typing[ts.UserId] = ts
	s.notify(ChangeEvent{Kind: ChangeTyping, PeerId: ts.UserId})
}

// ClearTypingState removes the typing entry for a peer. Clearing an
// absent entry is a no-op, so stale stop signals are harmless.
func (s *Store) ClearTypingState(peerId int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.typing[peerId]; !ok {
		return
	}
	delete(s.typing, peerId)
	s.notify(ChangeEvent{Kind: ChangeTyping, PeerId: peerId})
}
