package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/partyware/go-partysync/internal/database"
	"github.com/partyware/go-partysync/internal/stats"
	"github.com/partyware/go-partysync/internal/store"
	"github.com/partyware/go-partysync/internal/testutil"
	"github.com/partyware/go-partysync/internal/transport"
	"github.com/partyware/go-partysync/internal/types"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveInflight(correlationId string) {
	m.Called(correlationId)
}

type mockTypingSink struct {
	mock.Mock
}

func (m *mockTypingSink) TypingReceived(userId int) {
	m.Called(userId)
}

func (m *mockTypingSink) StopTypingReceived(userId int) {
	m.Called(userId)
}

func newTestReconciler(t *testing.T, st *store.Store, archive database.ArchiveRepository) (*Reconciler, *transport.MockTransport, *mockResolver, *mockTypingSink) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(3)
	su.On("Incr", mock.Anything).Return().Maybe()

	tr := transport.NewMockTransport()
	resolver := &mockResolver{}
	typing := &mockTypingSink{}

	r := NewReconciler(testutil.TestLogger(t), st, tr, resolver, typing, archive, su)
	return r, tr, resolver, typing
}

// deliver pushes events through the transport channel and runs the
// reconciler loop to completion.
func deliver(r *Reconciler, tr *transport.MockTransport, evts ...transport.Event) {
	for _, evt := range evts {
		tr.EventCh <- evt
	}
	close(tr.EventCh)
	r.Run()
	<-r.Done()
}

func TestPartyCreatedResolvesOptimistic(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{
		Id: "local-1", Title: "rooftop", CreatorId: 1, Status: types.PartyOpening,
		Pending: true, CorrelationId: "c1",
	})

	r, tr, resolver, _ := newTestReconciler(t, st, nil)
	defer resolver.AssertExpectations(t)
	resolver.On("ResolveInflight", "c1").Return().Once()

	evt, err := transport.NewEvent(transport.EventPartyCreated, "c1", transport.PartyPayload{
		Party: types.Party{Id: "srv-9", Title: "rooftop", CreatorId: 1, Status: types.PartyOpening},
	})
	assert.NoError(t, err, "expected event to build")

	deliver(r, tr, evt)

	assert.Nil(t, st.GetPartyById("local-1"), "expected local id to be replaced")
	p := st.GetPartyById("srv-9")
	assert.NotNil(t, p, "expected party under server id")
	assert.False(t, p.Pending, "expected resolved party to be confirmed")
}

func TestPartyCreatedBroadcast(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	r, tr, resolver, _ := newTestReconciler(t, st, nil)

	evt, _ := transport.NewEvent(transport.EventPartyCreated, "", transport.PartyPayload{
		Party: types.Party{Id: "srv-9", Title: "warehouse", CreatorId: 3, Status: types.PartyOpening},
	})

	deliver(r, tr, evt)

	assert.NotNil(t, st.GetPartyById("srv-9"), "expected broadcast party to be stored")
	resolver.AssertNotCalled(t, "ResolveInflight", mock.Anything)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyOpening})

	r, tr, _, _ := newTestReconciler(t, st, nil)

	evt, _ := transport.NewEvent(transport.EventApplicantCreated, "", transport.ApplicantPayload{
		PartyId:   "p1",
		Applicant: types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantPending},
	})

	deliver(r, tr, evt, evt)

	p := st.GetPartyById("p1")
	assert.Len(t, p.Applicants, 1, "expected duplicate delivery to converge to one record")
}

func TestTwoDeviceAcceptConflict(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{
		Id: "p1", CreatorId: 1, Status: types.PartyOpening,
		Applicants: []types.Applicant{
			{Id: "a1", PartyId: "p1", ApplierId: 2, Status: types.ApplicantPending},
		},
	})
	// This device optimistically declined while another device's accept
	// was already settled by the server.
	st.UpsertApplicant("p1", types.Applicant{
		Id: "a1", PartyId: "p1", ApplierId: 2, Status: types.ApplicantDeclined,
		Pending: true, CorrelationId: "c-local",
	})

	r, tr, resolver, _ := newTestReconciler(t, st, nil)
	defer resolver.AssertExpectations(t)
	resolver.On("ResolveInflight", "c-local").Return().Once()

	ch, cancel := st.Subscribe()
	defer cancel()

	evt, _ := transport.NewEvent(transport.EventAcceptedApplicant, "c-remote", transport.ApplicantPayload{
		PartyId:   "p1",
		Applicant: types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantAccepted},
	})

	deliver(r, tr, evt)

	a, _ := st.GetApplicant("p1", "a1")
	assert.Equal(t, types.ApplicantAccepted, a.Status, "expected the server's verdict to win")
	assert.False(t, a.Pending, "expected the losing optimistic write to be settled")
	assert.Zero(t, st.PendingCount(), "expected no pending writes after the conflict")

	var sawNotice bool
	for {
		var done bool
		select {
		case evt := <-ch:
			if evt.Kind == store.ChangeNotice {
				sawNotice = true
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	assert.True(t, sawNotice, "expected a conflict notice for the user")
}

func TestAcceptConfirmsOwnJudgement(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{
		Id: "p1", CreatorId: 1, Status: types.PartyOpening,
		Applicants: []types.Applicant{
			{Id: "a1", PartyId: "p1", ApplierId: 2, Status: types.ApplicantPending},
		},
	})
	st.UpsertApplicant("p1", types.Applicant{
		Id: "a1", PartyId: "p1", ApplierId: 2, Status: types.ApplicantAccepted,
		Pending: true, CorrelationId: "c1",
	})

	r, tr, resolver, _ := newTestReconciler(t, st, nil)
	defer resolver.AssertExpectations(t)
	resolver.On("ResolveInflight", "c1").Return().Once()

	evt, _ := transport.NewEvent(transport.EventAcceptedApplicant, "c1", transport.ApplicantPayload{
		PartyId:   "p1",
		Applicant: types.Applicant{Id: "a1", ApplierId: 2, Status: types.ApplicantAccepted},
	})

	deliver(r, tr, evt)

	a, _ := st.GetApplicant("p1", "a1")
	assert.Equal(t, types.ApplicantAccepted, a.Status, "expected accepted status to stand")
	assert.False(t, a.Pending, "expected the judgement to be confirmed")
}

func TestStickerApprovedConflict(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{
		Id: "p1", CreatorId: 2, Status: types.PartyAccepted, PaymentMode: types.PaymentPaid,
		Applicants: []types.Applicant{
			{Id: "a1", PartyId: "p1", ApplierId: 1, Status: types.ApplicantAccepted, StickerLocked: true},
		},
	})
	// Local release racing the creator's exchange.
	unlocked := false
	st.UpsertTicketBinding("p1", "a1", store.TicketBindingPatch{
		Locked: &unlocked, Pending: true, CorrelationId: "c-local",
	})

	r, tr, resolver, _ := newTestReconciler(t, st, nil)
	defer resolver.AssertExpectations(t)
	resolver.On("ResolveInflight", "c-local").Return().Once()

	evt, _ := transport.NewEvent(transport.EventStickerApproved, "c-remote", transport.TicketBindingPayload{
		PartyId: "p1", ApplicantId: "a1", Locked: false, Sold: true,
	})

	deliver(r, tr, evt)

	a, _ := st.GetApplicant("p1", "a1")
	assert.True(t, a.StickerSold, "expected the server's sold state to win")
	assert.False(t, a.Pending, "expected the stale pending marker to clear")
	assert.Zero(t, st.PendingCount(), "expected the local write to be settled")
}

func TestPartyStatusConfirmAndConflict(t *testing.T) {
	t.Run("confirms own transition", func(t *testing.T) {
		st := store.NewStore(testutil.TestLogger(t), 1)
		st.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyAccepted})
		st.UpsertParty(types.Party{
			Id: "p1", CreatorId: 1, Status: types.PartyPlaying,
			Pending: true, CorrelationId: "c1",
		})

		r, tr, resolver, _ := newTestReconciler(t, st, nil)
		defer resolver.AssertExpectations(t)
		resolver.On("ResolveInflight", "c1").Return().Once()

		evt, _ := transport.NewEvent(transport.EventPartyPlaying, "c1", transport.PartyStatusPayload{
			PartyId: "p1", Status: types.PartyPlaying,
		})

		deliver(r, tr, evt)

		p := st.GetPartyById("p1")
		assert.Equal(t, types.PartyPlaying, p.Status, "expected playing status")
		assert.False(t, p.Pending, "expected transition to be confirmed")
	})

	t.Run("foreign transition overrides pending local one", func(t *testing.T) {
		st := store.NewStore(testutil.TestLogger(t), 1)
		st.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyPlaying})
		st.UpsertParty(types.Party{
			Id: "p1", CreatorId: 1, Status: types.PartyFinished,
			Pending: true, CorrelationId: "c-local",
		})

		r, tr, resolver, _ := newTestReconciler(t, st, nil)
		defer resolver.AssertExpectations(t)
		resolver.On("ResolveInflight", "c-local").Return().Once()

		evt, _ := transport.NewEvent(transport.EventPartyFinished, "c-remote", transport.PartyStatusPayload{
			PartyId: "p1", Status: types.PartyFinished,
		})

		deliver(r, tr, evt)

		p := st.GetPartyById("p1")
		assert.Equal(t, types.PartyFinished, p.Status, "expected finished status")
		assert.Zero(t, st.PendingCount(), "expected local write to be settled")
	})
}

func TestPartyCancelledRemovesParty(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{Id: "p1", CreatorId: 3, Status: types.PartyOpening})
	st.AppendMessage(types.Message{Id: "m1", SenderId: 3, ReceiverId: 1, Status: types.MessageDelivered})

	archive := &database.MockArchiveRepository{}
	defer archive.AssertExpectations(t)
	archive.On("DeleteParty", "p1").Return(nil).Once()

	r, tr, _, _ := newTestReconciler(t, st, archive)

	evt, _ := transport.NewEvent(transport.EventPartyCancelled, "", transport.PartyStatusPayload{
		PartyId: "p1", Status: types.PartyCancelled,
	})

	deliver(r, tr, evt)

	assert.Nil(t, st.GetPartyById("p1"), "expected cancelled party to be removed")
	assert.Len(t, st.GetConversation(3), 1, "expected the conversation to survive cancellation")
}

func TestFinishApprovedDeduplicates(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.UpsertParty(types.Party{Id: "p1", CreatorId: 1, Status: types.PartyPlaying})

	r, tr, _, _ := newTestReconciler(t, st, nil)

	evt, _ := transport.NewEvent(transport.EventPartyFinishApproved, "", transport.FinishApprovalPayload{
		PartyId: "p1", ApproverId: 2,
	})

	deliver(r, tr, evt, evt)

	assert.Equal(t, []int{2}, st.GetPartyById("p1").FinishApprovals,
		"expected repeated approvals to collapse")
}

func TestInboundMessageMarkedDelivered(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)

	archive := &database.MockArchiveRepository{}
	defer archive.AssertExpectations(t)
	archive.On("SaveMessage", mock.Anything).Return(nil).Once()

	r, tr, _, _ := newTestReconciler(t, st, archive)

	evt, _ := transport.NewEvent(transport.EventMessageSendText, "", transport.MessagePayload{
		Message: types.Message{Id: "m1", SenderId: 2, ReceiverId: 1, Content: "hey", Status: types.MessageSent},
	})

	deliver(r, tr, evt)

	m := st.GetMessage("m1")
	assert.NotNil(t, m, "expected inbound message in the store")
	assert.Equal(t, types.MessageDelivered, m.Status,
		"expected inbound message to be marked delivered on arrival")
}

func TestMessageConfirmSupersedesLocal(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.AppendMessage(types.Message{
		Id: "local-m", SenderId: 1, ReceiverId: 2, Content: "hey",
		Status: types.MessageSent, Pending: true, CorrelationId: "c1",
	})

	r, tr, resolver, _ := newTestReconciler(t, st, nil)
	defer resolver.AssertExpectations(t)
	resolver.On("ResolveInflight", "c1").Return().Once()

	evt, _ := transport.NewEvent(transport.EventMessageSendText, "c1", transport.MessagePayload{
		Message: types.Message{Id: "srv-m", SenderId: 1, ReceiverId: 2, Content: "hey", Status: types.MessageDelivered},
	})

	deliver(r, tr, evt)

	assert.Nil(t, st.GetMessage("local-m"), "expected local id to be replaced")
	m := st.GetMessage("srv-m")
	assert.NotNil(t, m, "expected message under server id")
	assert.Equal(t, types.MessageDelivered, m.Status, "expected the server's status")
	assert.Len(t, st.GetConversation(2), 1, "expected a single conversation record")
}

func TestMultiReadAdvancesEachMessage(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	st.AppendMessage(types.Message{Id: "m1", SenderId: 1, ReceiverId: 2, Status: types.MessageDelivered})
	st.AppendMessage(types.Message{Id: "m2", SenderId: 1, ReceiverId: 2, Status: types.MessageDelivered})

	r, tr, _, _ := newTestReconciler(t, st, nil)

	evt, _ := transport.NewEvent(transport.EventMessageMultiRead, "", transport.MultiReadPayload{
		MessageIds: []string{"m1", "m2"}, ReaderId: 2, PeerId: 1,
	})

	deliver(r, tr, evt)

	assert.Equal(t, types.MessageRead, st.GetMessage("m1").Status, "expected m1 read")
	assert.Equal(t, types.MessageRead, st.GetMessage("m2").Status, "expected m2 read")
}

func TestTypingRoutedToSink(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)

	r, tr, _, typing := newTestReconciler(t, st, nil)
	defer typing.AssertExpectations(t)
	typing.On("TypingReceived", 2).Return().Once()
	typing.On("StopTypingReceived", 2).Return().Once()

	start, _ := transport.NewEvent(transport.EventTypingReceived, "", transport.TypingPayload{UserId: 2, PeerId: 1})
	stop, _ := transport.NewEvent(transport.EventStopTypingReceived, "", transport.TypingPayload{UserId: 2, PeerId: 1})

	deliver(r, tr, start, stop)
}

func TestUnknownEventIgnored(t *testing.T) {
	st := store.NewStore(testutil.TestLogger(t), 1)
	r, tr, _, _ := newTestReconciler(t, st, nil)

	evt, _ := transport.NewEvent("party:unknown", "", struct{}{})
	deliver(r, tr, evt)
}
