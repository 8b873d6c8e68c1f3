package types

import (
	"time"
)

type PartyStatus string

const (
	PartyOpening   PartyStatus = "opening"
	PartyAccepted  PartyStatus = "accepted"
	PartyPlaying   PartyStatus = "playing"
	PartyFinished  PartyStatus = "finished"
	PartyCancelled PartyStatus = "cancelled"
)

type PaymentMode string

const (
	PaymentFree PaymentMode = "free"
	PaymentPaid PaymentMode = "paid"
)

type ApplicantStatus string

const (
	ApplicantPending  ApplicantStatus = "pending"
	ApplicantAccepted ApplicantStatus = "accepted"
	ApplicantDeclined ApplicantStatus = "declined"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Rank orders delivery statuses so the store can reject regressions.
// Unknown statuses rank below "sent".
func (s MessageStatus) Rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	default:
		return 0
	}
}

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
}

// Ticket is a priced credential bound to one Applicant. Immutable once
// issued; its lock/sold binding state lives on the owning Applicant.
type Ticket struct {
	Id       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	ImageUrl string  `json:"image_url,omitempty"`
}

type Applicant struct {
	Id            string          `json:"id"`
	PartyId       string          `json:"party_id"`
	ApplierId     int             `json:"applier_id"`
	Message       string          `json:"message,omitempty"`
	Status        ApplicantStatus `json:"status"`
	Tickets       []Ticket        `json:"tickets,omitempty"`
	StickerLocked bool            `json:"sticker_locked"`
	StickerSold   bool            `json:"sticker_sold"`
	AppliedAt     time.Time       `json:"applied_at"`

	// Pending marks an optimistic record awaiting its authoritative
	// resolution; CorrelationId ties it to the outbound action.
	Pending       bool   `json:"-"`
	CorrelationId string `json:"-"`
}

type Party struct {
	Id              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Type            string      `json:"type,omitempty"`
	CreatorId       int         `json:"creator_id"`
	Status          PartyStatus `json:"status"`
	Applicants      []Applicant `json:"applicants,omitempty"`
	FinishApprovals []int       `json:"finish_approvals,omitempty"`
	PaymentMode     PaymentMode `json:"payment_mode"`
	Fee             float64     `json:"fee,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	Media           []string    `json:"media,omitempty"`
	OpeningTime     time.Time   `json:"opening_time"`

	Pending       bool   `json:"-"`
	CorrelationId string `json:"-"`
}

// Clone returns a copy that shares no slices with the receiver.
func (a Applicant) Clone() Applicant {
	cp := a
	cp.Tickets = append([]Ticket(nil), a.Tickets...)
	return cp
}

// Clone returns a copy that shares no slices with the receiver, down
// to each applicant's ticket list.
func (p Party) Clone() Party {
	cp := p
	if len(p.Applicants) > 0 {
		cp.Applicants = make([]Applicant, len(p.Applicants))
		for i := range p.Applicants {
			cp.Applicants[i] = p.Applicants[i].Clone()
		}
	}
	cp.FinishApprovals = append([]int(nil), p.FinishApprovals...)
	cp.Media = append([]string(nil), p.Media...)
	return cp
}

// ApplicantById returns a copy of the applicant with the given id, or
// false if none exists on the party.
func (p *Party) ApplicantById(applicantId string) (Applicant, bool) {
	for _, a := range p.Applicants {
		if a.Id == applicantId {
			return a, true
		}
	}
	return Applicant{}, false
}

// ApplicantByApplier returns a copy of the applicant record for the
// given user. An applier has at most one Applicant per Party.
func (p *Party) ApplicantByApplier(applierId int) (Applicant, bool) {
	for _, a := range p.Applicants {
		if a.ApplierId == applierId {
			return a, true
		}
	}
	return Applicant{}, false
}

type Message struct {
	Id         string        `json:"id"`
	SenderId   int           `json:"sender_id"`
	ReceiverId int           `json:"receiver_id"`
	Content    string        `json:"content,omitempty"`
	FileUrls   []string      `json:"file_urls,omitempty"`
	Status     MessageStatus `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`

	Pending       bool   `json:"-"`
	CorrelationId string `json:"-"`
}

// Clone returns a copy that shares no slices with the receiver.
func (m Message) Clone() Message {
	cp := m
	cp.FileUrls = append([]string(nil), m.FileUrls...)
	return cp
}

// TypingState is ephemeral and never persisted: it records that a peer
// is composing a message and expires at Deadline unless refreshed.
type TypingState struct {
	UserId   int       `json:"user_id"`
	PeerId   int       `json:"peer_id"`
	Deadline time.Time `json:"-"`
}
