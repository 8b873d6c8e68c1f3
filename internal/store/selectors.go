package store

import (
	"slices"

	"github.com/partyware/go-partysync/internal/types"
)

// Selectors return detached copies: the live records never leave the
// lock, so callers may read and even scribble on results while the
// reconciler goroutine keeps writing. Change detection flows through
// the subscription channel, not pointer identity.

// GetPartyById returns a copy of the stored party, or nil.
func (s *Store) GetPartyById(partyId string) *types.Party {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parties[partyId]
	if !ok {
		return nil
	}
	cp := p.Clone()
	return &cp
}

// GetParties returns copies of all parties ordered by opening time.
func (s *Store) GetParties() []*types.Party {
	s.mu.Lock()
	defer s.mu.Unlock()

	parties := make([]*types.Party, 0, len(s.parties))
	for _, p := range s.parties {
		cp := p.Clone()
		parties = append(parties, &cp)
	}
	slices.SortFunc(parties, func(a, b *types.Party) int {
		return a.OpeningTime.Compare(b.OpeningTime)
	})
	return parties
}

// GetApplicant returns a copy of one applicant record.
func (s *Store) GetApplicant(partyId, applicantId string) (types.Applicant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parties[partyId]
	if !ok {
		return types.Applicant{}, false
	}
	a, ok := p.ApplicantById(applicantId)
	if !ok {
		return types.Applicant{}, false
	}
	return a.Clone(), true
}

// GetApplicantsByStatus returns copies of the party's applicants in the
// given status, in application order.
func (s *Store) GetApplicantsByStatus(partyId string, status types.ApplicantStatus) []types.Applicant {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parties[partyId]
	if !ok {
		return nil
	}

	var out []types.Applicant
	for _, a := range p.Applicants {
		if a.Status == status {
			out = append(out, a.Clone())
		}
	}
	return out
}

// GetConversation returns copies of the message history with a peer in
// send order.
func (s *Store) GetConversation(peerId int) []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.convos[peerId]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		cp := m.Clone()
		out[i] = &cp
	}
	return out
}

// GetMessage returns a copy of the message record, or nil.
func (s *Store) GetMessage(messageId string) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgIndex[messageId]
	if !ok {
		return nil
	}
	cp := m.Clone()
	return &cp
}

// UnreadInbound returns ids of inbound messages from peerId that have
// not been read yet.
func (s *Store) UnreadInbound(peerId int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, m := range s.convos[peerId] {
		if m.SenderId == peerId && m.Status != types.MessageRead {
			ids = append(ids, m.Id)
		}
	}
	return ids
}

// GetTypingState reports whether a peer is currently composing.
func (s *Store) GetTypingState(peerId int) (types.TypingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.typing[peerId]
	return ts, ok
}
