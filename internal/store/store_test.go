package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/partyware/go-partysync/internal/testutil"
	"github.com/partyware/go-partysync/internal/types"
)

func newTestStore(t *testing.T) *Store {
	return NewStore(testutil.TestLogger(t), 1)
}

func TestUpsertPartyOptimisticThenAuthoritative(t *testing.T) {
	s := newTestStore(t)

	s.UpsertParty(types.Party{
		Id:            "local-1",
		Title:         "rooftop",
		CreatorId:     1,
		Status:        types.PartyOpening,
		Pending:       true,
		CorrelationId: "c1",
	})

	p := s.GetPartyById("local-1")
	assert.NotNil(t, p, "expected optimistic party to be stored")
	assert.True(t, p.Pending, "expected optimistic party to be pending")
	assert.True(t, s.IsPending("c1"), "expected correlation id to be registered")

	// Authoritative write fully replaces.
	s.UpsertParty(types.Party{
		Id:        "local-1",
		Title:     "rooftop party",
		CreatorId: 1,
		Status:    types.PartyOpening,
	})
	p = s.GetPartyById("local-1")
	assert.Equal(t, "rooftop party", p.Title, "expected authoritative title to replace")
	assert.False(t, p.Pending, "expected authoritative write to clear pending")
}

func TestResolvePartySwapsServerAssignedId(t *testing.T) {
	s := newTestStore(t)

	s.UpsertParty(types.Party{
		Id: "local-1", Title: "rooftop", CreatorId: 1,
		Status: types.PartyOpening, Pending: true, CorrelationId: "c1",
	})

	resolved := s.ResolveParty("c1", types.Party{
		Id: "srv-9", Title: "rooftop", CreatorId: 1, Status: types.PartyOpening,
	})
	assert.True(t, resolved, "expected resolution to match the pending write")
	assert.Nil(t, s.GetPartyById("local-1"), "expected local record to be dropped")

	p := s.GetPartyById("srv-9")
	assert.NotNil(t, p, "expected party under server-assigned id")
	assert.False(t, p.Pending, "expected resolved party to no longer be pending")
	assert.False(t, s.IsPending("c1"), "expected correlation id to be released")

	assert.False(t, s.ResolveParty("c1", types.Party{Id: "srv-9"}),
		"expected repeated resolution to be a no-op")
}

func TestRollbackRestoresPriorParty(t *testing.T) {
	s := newTestStore(t)

	s.UpsertParty(types.Party{Id: "p1", Title: "rooftop", CreatorId: 1, Status: types.PartyAccepted})
	s.UpsertParty(types.Party{
		Id: "p1", Title: "rooftop", CreatorId: 1,
		Status: types.PartyPlaying, Pending: true, CorrelationId: "c1",
	})

	assert.Equal(t, types.PartyPlaying, s.GetPartyById("p1").Status,
		"expected optimistic status to be visible")

	assert.True(t, s.Rollback("c1"), "expected rollback to find the pending write")
	assert.Equal(t, types.PartyAccepted, s.GetPartyById("p1").Status,
		"expected rollback to restore the prior status")
}

func TestRollbackRemovesOptimisticCreate(t *testing.T) {
	s := newTestStore(t)

	s.UpsertParty(types.Party{
		Id: "local-1", CreatorId: 1, Status: types.PartyOpening,
		Pending: true, CorrelationId: "c1",
	})

	assert.True(t, s.Rollback("c1"), "expected rollback to find the pending write")
	assert.Nil(t, s.GetPartyById("local-1"), "expected optimistic create to be removed")
}

func TestSecondOptimisticWriteQueuesBehindFirst(t *testing.T) {
	s := newTestStore(t)

	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyAccepted})
	s.UpsertParty(types.Party{
		Id: "p1", CreatorId: 1, Status: types.PartyPlaying,
		Pending: true, CorrelationId: "c1",
	})
	s.UpsertParty(types.Party{
		Id: "p1", CreatorId: 1, Status: types.PartyFinished,
		Pending: true, CorrelationId: "c2",
	})

	// The second write waits for the first's resolution.
	assert.Equal(t, types.PartyPlaying, s.GetPartyById("p1").Status,
		"expected queued write to not apply yet")
	assert.False(t, s.IsPending("c2"), "expected queued write to not be registered yet")

	s.ResolveParty("c1", types.Party{Id: "p1", CreatorId: 1, Status: types.PartyPlaying})

	assert.Equal(t, types.PartyFinished, s.GetPartyById("p1").Status,
		"expected queued write to apply on release")
	assert.True(t, s.IsPending("c2"), "expected queued write to be registered after release")
}

func TestRollbackCancelsQueuedWrite(t *testing.T) {
	s := newTestStore(t)

	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyAccepted})
	s.UpsertParty(types.Party{
		Id: "p1", CreatorId: 1, Status: types.PartyPlaying,
		Pending: true, CorrelationId: "c1",
	})
	s.UpsertParty(types.Party{
		Id: "p1", CreatorId: 1, Status: types.PartyFinished,
		Pending: true, CorrelationId: "c2",
	})

	// The queued write has not applied, but rolling it back must still
	// cancel it so it never applies after the first write resolves.
	assert.True(t, s.Rollback("c2"), "expected rollback to find the queued write")

	s.ResolveParty("c1", types.Party{Id: "p1", CreatorId: 1, Status: types.PartyPlaying})

	assert.Equal(t, types.PartyPlaying, s.GetPartyById("p1").Status,
		"expected the cancelled write to never apply")
	assert.False(t, s.IsPending("c2"), "expected no registration for the cancelled write")
	assert.Zero(t, s.PendingCount(), "expected no unresolved writes")
}

func TestUpsertApplicantMatchesByApplier(t *testing.T) {
	s := newTestStore(t)
	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyOpening})

	s.UpsertApplicant("p1", types.Applicant{Id: "local-a", ApplierId: 2, Status: types.ApplicantPending})
	s.UpsertApplicant("p1", types.Applicant{Id: "srv-a", ApplierId: 2, Status: types.ApplicantAccepted})

	p := s.GetPartyById("p1")
	assert.Len(t, p.Applicants, 1, "expected applier to hold a single applicant record")
	assert.Equal(t, "srv-a", p.Applicants[0].Id, "expected server id to replace the local one")
	assert.Equal(t, types.ApplicantAccepted, p.Applicants[0].Status, "expected latest status")
}

func TestTicketBindingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyAccepted, PaymentMode: types.PaymentPaid})
	s.UpsertApplicant("p1", types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantAccepted})

	ticket := types.Ticket{Id: "t1", Name: "VIP", Price: 100, Currency: "USD"}
	locked := true
	s.UpsertTicketBinding("p1", "a1", TicketBindingPatch{
		Locked:        &locked,
		AddTicket:     &ticket,
		Pending:       true,
		CorrelationId: "c1",
	})

	a, ok := s.GetApplicant("p1", "a1")
	assert.True(t, ok, "expected applicant to exist")
	assert.True(t, a.StickerLocked, "expected binding to be locked")
	assert.Len(t, a.Tickets, 1, "expected one ticket on the binding")
	assert.True(t, a.Pending, "expected binding write to be pending")

	// A duplicate broadcast of the same ticket must not grow the list.
	s.UpsertTicketBinding("p1", "a1", TicketBindingPatch{Locked: &locked, AddTicket: &ticket})
	a, _ = s.GetApplicant("p1", "a1")
	assert.Len(t, a.Tickets, 1, "expected duplicate ticket to be ignored")

	assert.True(t, s.ResolveBinding("c1"), "expected binding resolution to match")
	a, _ = s.GetApplicant("p1", "a1")
	assert.False(t, a.Pending, "expected resolution to clear the pending marker")
	assert.True(t, a.StickerLocked, "expected the optimistic flags to stand")
}

func TestTicketBindingRollback(t *testing.T) {
	s := newTestStore(t)
	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyAccepted})
	s.UpsertApplicant("p1", types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantAccepted})

	ticket := types.Ticket{Id: "t1", Name: "VIP", Price: 100, Currency: "USD"}
	locked := true
	s.UpsertTicketBinding("p1", "a1", TicketBindingPatch{
		Locked:        &locked,
		AddTicket:     &ticket,
		Pending:       true,
		CorrelationId: "c1",
	})

	assert.True(t, s.Rollback("c1"), "expected rollback to find the pending write")
	a, _ := s.GetApplicant("p1", "a1")
	assert.False(t, a.StickerLocked, "expected rollback to unlock the binding")
	assert.Empty(t, a.Tickets, "expected rollback to remove the ticket")
}

func TestAppendMessageIdempotent(t *testing.T) {
	s := newTestStore(t)

	m := types.Message{Id: "m1", SenderId: 2, ReceiverId: 1, Content: "hey", Status: types.MessageSent}
	s.AppendMessage(m)
	s.AppendMessage(m)

	assert.Len(t, s.GetConversation(2), 1, "expected duplicate append to be a no-op")
}

func TestAdvanceMessageStatusMonotonic(t *testing.T) {
	s := newTestStore(t)
	s.AppendMessage(types.Message{Id: "m1", SenderId: 2, ReceiverId: 1, Status: types.MessageSent})

	s.AdvanceMessageStatus("m1", types.MessageRead)
	assert.Equal(t, types.MessageRead, s.GetMessage("m1").Status, "expected status to advance")

	s.AdvanceMessageStatus("m1", types.MessageDelivered)
	assert.Equal(t, types.MessageRead, s.GetMessage("m1").Status,
		"expected a status regression to be rejected")
}

func TestResolveMessageKeepsAdvancedStatus(t *testing.T) {
	s := newTestStore(t)
	s.AppendMessage(types.Message{
		Id: "local-m", SenderId: 1, ReceiverId: 2, Content: "hey",
		Status: types.MessageSent, Pending: true, CorrelationId: "c1",
	})
	s.AdvanceMessageStatus("local-m", types.MessageDelivered)

	resolved := s.ResolveMessage("c1", types.Message{
		Id: "srv-m", SenderId: 1, ReceiverId: 2, Content: "hey", Status: types.MessageSent,
	})
	assert.True(t, resolved, "expected resolution to match the pending write")

	assert.Nil(t, s.GetMessage("local-m"), "expected local id to be gone")
	m := s.GetMessage("srv-m")
	assert.NotNil(t, m, "expected message under server id")
	assert.Equal(t, types.MessageDelivered, m.Status, "expected advanced status to survive resolution")
	assert.False(t, m.Pending, "expected resolved message to not be pending")
	assert.Len(t, s.GetConversation(2), 1, "expected a single record in the conversation")
}

func TestMessageRollbackRemovesOptimisticRecord(t *testing.T) {
	s := newTestStore(t)
	s.AppendMessage(types.Message{
		Id: "m1", SenderId: 1, ReceiverId: 2, Content: "hey",
		Status: types.MessageSent, Pending: true, CorrelationId: "c1",
	})

	assert.True(t, s.Rollback("c1"), "expected rollback to find the pending write")
	assert.Nil(t, s.GetMessage("m1"), "expected message to be removed")
	assert.Empty(t, s.GetConversation(2), "expected conversation to be empty after rollback")
}

func TestUnreadInbound(t *testing.T) {
	s := newTestStore(t)
	s.AppendMessage(types.Message{Id: "m1", SenderId: 2, ReceiverId: 1, Status: types.MessageDelivered})
	s.AppendMessage(types.Message{Id: "m2", SenderId: 2, ReceiverId: 1, Status: types.MessageRead})
	s.AppendMessage(types.Message{Id: "m3", SenderId: 1, ReceiverId: 2, Status: types.MessageSent})

	unread := s.UnreadInbound(2)
	assert.Equal(t, []string{"m1"}, unread, "expected only unread inbound messages")
}

func TestTypingState(t *testing.T) {
	s := newTestStore(t)

	s.SetTypingState(types.TypingState{UserId: 2, PeerId: 1})
	_, ok := s.GetTypingState(2)
	assert.True(t, ok, "expected typing state to be set")

	s.ClearTypingState(2)
	_, ok = s.GetTypingState(2)
	assert.False(t, ok, "expected typing state to be cleared")

	// Clearing again is harmless.
	s.ClearTypingState(2)
}

func TestSubscribeReceivesChangesAndNotices(t *testing.T) {
	s := newTestStore(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyOpening})
	evt := <-ch
	assert.Equal(t, ChangeParty, evt.Kind, "expected a party change event")
	assert.Equal(t, "p1", evt.PartyId, "expected the changed party id")

	s.PublishNotice(NoticeWarning, "still pending")
	evt = <-ch
	assert.Equal(t, ChangeNotice, evt.Kind, "expected a notice event")
	assert.Equal(t, NoticeWarning, evt.Notice.Level, "expected warning level")
}

func TestSelectorsReturnDetachedRecords(t *testing.T) {
	s := newTestStore(t)
	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyOpening})
	s.UpsertApplicant("p1", types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantPending})
	s.AppendMessage(types.Message{Id: "m1", SenderId: 2, ReceiverId: 1, Status: types.MessageDelivered})

	// Store-side writes after the read must not show through an
	// already-returned record.
	p := s.GetPartyById("p1")
	s.UpsertApplicant("p1", types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantAccepted})
	assert.Equal(t, types.ApplicantPending, p.Applicants[0].Status,
		"expected the returned party to be a snapshot")

	// Scribbling on a returned record must not reach the store.
	p.Status = types.PartyCancelled
	p.Applicants[0].StickerLocked = true
	assert.Equal(t, types.PartyOpening, s.GetPartyById("p1").Status,
		"expected caller mutation to not reach the store")
	assert.False(t, s.GetPartyById("p1").Applicants[0].StickerLocked,
		"expected applicant mutation to not reach the store")

	m := s.GetMessage("m1")
	m.Status = types.MessageRead
	assert.Equal(t, types.MessageDelivered, s.GetMessage("m1").Status,
		"expected message mutation to not reach the store")

	convo := s.GetConversation(2)
	convo[0].Content = "tampered"
	assert.Empty(t, s.GetMessage("m1").Content,
		"expected conversation mutation to not reach the store")
}

func TestRemovePartyPurgesPendingWrites(t *testing.T) {
	s := newTestStore(t)
	s.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyOpening})
	s.UpsertApplicant("p1", types.Applicant{
		Id: "a1", ApplierId: 2, Status: types.ApplicantAccepted,
		Pending: true, CorrelationId: "c1",
	})
	s.UpsertApplicant("p1", types.Applicant{
		Id: "a1", ApplierId: 2, Status: types.ApplicantDeclined,
		Pending: true, CorrelationId: "c2",
	})

	s.RemoveParty("p1")

	assert.Zero(t, s.PendingCount(), "expected no registrations to outlive the party")
	assert.False(t, s.IsPending("c1"), "expected the applicant write to be purged")
	assert.False(t, s.Rollback("c1"), "expected nothing left to roll back")
	assert.False(t, s.Rollback("c2"), "expected the queued write to be purged too")
}
