package store

import (
	"strings"

	"github.com/partyware/go-partysync/internal/types"
)

// registerPending must be called with the lock held. restore undoes the
// optimistic write if the action is rolled back.
func (s *Store) registerPending(correlationId, key string, restore func()) {
	if correlationId == "" {
		s.log.Printf("optimistic write on %q without correlation id", key)
		return
	}
	s.pending[correlationId] = pendingEntry{key: key, restore: restore}
	s.pendingKeys[key] = correlationId
}

// enqueue must be called with the lock held.
func (s *Store) enqueue(key, correlationId string, apply func()) {
	s.queued[key] = append(s.queued[key], queuedWrite{correlationId: correlationId, apply: apply})
}

// release drops the pending registration for a correlation id and
// applies the next queued optimistic write on the same entity, if any.
// Must be called with the lock held.
func (s *Store) release(correlationId string) (pendingEntry, bool) {
	entry, ok := s.pending[correlationId]
	if !ok {
		return pendingEntry{}, false
	}
	delete(s.pending, correlationId)
	delete(s.pendingKeys, entry.key)
	s.applyNextQueued(entry.key)
	return entry, true
}

// applyNextQueued applies the next queued optimistic write on the
// entity, if any. Must be called with the lock held.
func (s *Store) applyNextQueued(key string) {
	next := s.queued[key]
	if len(next) == 0 {
		return
	}
	w := next[0]
	if len(next) == 1 {
		delete(s.queued, key)
	} else {
		s.queued[key] = next[1:]
	}
	w.apply()
}

// dropQueued cancels a queued optimistic write that never applied.
// Must be called with the lock held.
func (s *Store) dropQueued(correlationId string) bool {
	for key, writes := range s.queued {
		for i, w := range writes {
			if w.correlationId != correlationId {
				continue
			}
			writes = append(writes[:i], writes[i+1:]...)
			if len(writes) == 0 {
				delete(s.queued, key)
			} else {
				s.queued[key] = writes
			}
			return true
		}
	}
	return false
}

// purgeEntity drops the pending registration and every queued write
// for one entity key. Must be called with the lock held.
func (s *Store) purgeEntity(key string) {
	if cid, ok := s.pendingKeys[key]; ok {
		delete(s.pending, cid)
		delete(s.pendingKeys, key)
	}
	delete(s.queued, key)
}

// HasPending reports whether an unresolved optimistic write exists for
// the given entity key, and under which correlation id.
func (s *Store) HasPending(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cid, ok := s.pendingKeys[key]
	return cid, ok
}

// IsPending reports whether a correlation id is still awaiting its
// authoritative resolution.
func (s *Store) IsPending(correlationId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[correlationId]
	return ok
}

// PendingCount returns the number of unresolved optimistic writes.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ResolveParty confirms an optimistic party write with the server's
// canonical record. The optimistic record is replaced wholesale, which
// also moves the party under its server-assigned id.
func (s *Store) ResolveParty(correlationId string, p types.Party) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[correlationId]
	if !ok {
		return false
	}

	// Drop the optimistic record before inserting the canonical one;
	// the local id may differ from the server-assigned id.
	if local := entry.key[len("party/"):]; local != p.Id {
		delete(s.parties, local)
	}
	p.Pending = false
	p.CorrelationId = ""
	cp := p
	s.parties[p.Id] = &cp
	s.release(correlationId)
	s.notify(ChangeEvent{Kind: ChangeParty, PartyId: p.Id})
	return true
}

// ResolveApplicant confirms an optimistic applicant write with the
// server's canonical record.
func (s *Store) ResolveApplicant(correlationId, partyId string, a types.Applicant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[correlationId]; !ok {
		return false
	}

	p, exists := s.parties[partyId]
	if !exists {
		s.log.Printf("resolve applicant: unknown party %q", partyId)
		s.release(correlationId)
		return false
	}

	a.Pending = false
	a.CorrelationId = ""
	a.PartyId = partyId

	replaced := false
	for i := range p.Applicants {
		// Match by applier: the optimistic record may carry a local id.
		if p.Applicants[i].ApplierId == a.ApplierId || p.Applicants[i].Id == a.Id {
			p.Applicants[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		p.Applicants = append(p.Applicants, a)
	}

	s.release(correlationId)
	s.notify(ChangeEvent{Kind: ChangeApplicant, PartyId: partyId, ApplicantId: a.Id})
	return true
}

// ResolveMessage confirms an optimistic message with the server's
// canonical record, superseding the local record atomically.
func (s *Store) ResolveMessage(correlationId string, m types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[correlationId]
	if !ok {
		return false
	}

	localId := entry.key[len("message/"):]
	if local, exists := s.msgIndex[localId]; exists {
		// Keep the slice position, replace the contents. Never regress
		// a delivery status the local side already advanced.
		if m.Status.Rank() < local.Status.Rank() {
			m.Status = local.Status
		}
		m.Pending = false
		m.CorrelationId = ""
		delete(s.msgIndex, localId)
		*local = m
		s.msgIndex[m.Id] = local
	}

	s.release(correlationId)
	s.notify(ChangeEvent{Kind: ChangeMessage, MessageId: m.Id, PeerId: s.peerOf(m)})
	return true
}

// ResolveBinding confirms an optimistic ticket binding write: the
// flags already applied optimistically stand, only the pending marker
// on the applicant is cleared.
func (s *Store) ResolveBinding(correlationId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[correlationId]
	if !ok {
		return false
	}

	// entry.key is applicant/<partyId>/<applicantId>
	var partyId, applicantId string
	rest := strings.TrimPrefix(entry.key, "applicant/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		partyId, applicantId = rest[:i], rest[i+1:]
	}

	if p, exists := s.parties[partyId]; exists {
		for i := range p.Applicants {
			if p.Applicants[i].Id == applicantId {
				p.Applicants[i].Pending = false
				p.Applicants[i].CorrelationId = ""
				break
			}
		}
		s.notify(ChangeEvent{Kind: ChangeApplicant, PartyId: partyId, ApplicantId: applicantId})
	}

	s.release(correlationId)
	return true
}

// Discard drops an optimistic write that the server contradicted. The
// record itself is left for the authoritative upsert that follows. A
// write still sitting in the queue is cancelled before it ever applies.
func (s *Store) Discard(correlationId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.release(correlationId); ok {
		return true
	}
	return s.dropQueued(correlationId)
}

// Rollback undoes an optimistic write that will never be confirmed,
// restoring the entity to its prior state. A write still queued behind
// a busy entity has not touched the store yet, so cancelling it is the
// whole rollback.
func (s *Store) Rollback(correlationId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[correlationId]
	if !ok {
		return s.dropQueued(correlationId)
	}
	delete(s.pending, correlationId)
	delete(s.pendingKeys, entry.key)
	if entry.restore != nil {
		entry.restore()
	}
	s.applyNextQueued(entry.key)
	return true
}

// snapshotParty returns a restore func capturing the party's current
// state. Must be called with the lock held, before the write.
func (s *Store) snapshotParty(partyId string) func() {
	prev, ok := s.parties[partyId]
	if !ok {
		return func() {
			delete(s.parties, partyId)
			s.notify(ChangeEvent{Kind: ChangeParty, PartyId: partyId})
		}
	}

	cp := *prev
	cp.Applicants = append([]types.Applicant(nil), prev.Applicants...)
	return func() {
		restored := cp
		s.parties[partyId] = &restored
		s.notify(ChangeEvent{Kind: ChangeParty, PartyId: partyId})
	}
}

// snapshotApplicant returns a restore func for one applicant record,
// matching by id or applier. Must be called with the lock held.
func (s *Store) snapshotApplicant(partyId, applicantId string, applierId int) func() {
	p, ok := s.parties[partyId]
	if !ok {
		return nil
	}

	for i := range p.Applicants {
		if p.Applicants[i].Id == applicantId || p.Applicants[i].ApplierId == applierId {
			cp := p.Applicants[i]
			cp.Tickets = append([]types.Ticket(nil), cp.Tickets...)
			return func() {
				if cur, exists := s.parties[partyId]; exists {
					for j := range cur.Applicants {
						if cur.Applicants[j].Id == cp.Id || cur.Applicants[j].ApplierId == cp.ApplierId {
							cur.Applicants[j] = cp
							s.notify(ChangeEvent{Kind: ChangeApplicant, PartyId: partyId, ApplicantId: cp.Id})
							return
						}
					}
				}
			}
		}
	}

	// No prior record: restoring means removing the optimistic one.
	return func() {
		if cur, exists := s.parties[partyId]; exists {
			for j := range cur.Applicants {
				if cur.Applicants[j].Id == applicantId {
					cur.Applicants = append(cur.Applicants[:j], cur.Applicants[j+1:]...)
					s.notify(ChangeEvent{Kind: ChangeApplicant, PartyId: partyId, ApplicantId: applicantId})
					return
				}
			}
		}
	}
}
