package transport

import (
	"encoding/json"
	"time"

	"github.com/partyware/go-partysync/internal/types"
)

// Wire event names. These are the socket contract shared with the
// backend and must not be renamed.
const (
	// outbound
	EventPartyCreating        = "party:creating"
	EventCreatingApplicant    = "creating:applicant"
	EventApplicantAccepted    = "applicant:accepted"
	EventApplicantDeclined    = "applicant:declined"
	EventStickerSendToOwner   = "sticker:send-to-owner"
	EventStickerApproved      = "sticker:approved-to-owner"
	EventStickerRelease       = "sticker:release-to-owner"
	EventPartyPlaying         = "party:playing"
	EventRequestFinishApprove = "request:party-finish-approve"
	EventPartyFinished        = "party:finished"
	EventPartyCancelled       = "party:cancelled"
	EventMessageSendText      = "message-send:text"
	EventMessageSendFiles     = "message-send:files"
	EventMessageRead          = "message:read"
	EventMessageMultiRead     = "message:multiple-update-read"
	EventTyping               = "typing"
	EventStopTyping           = "stop-typing"

	// inbound
	EventPartyCreated        = "party:created"
	EventApplicantCreated    = "applicant:created"
	EventAcceptedApplicant   = "accepted:applicant"
	EventPartyFinishApproved = "party:finish-approved"
	EventTypingReceived      = "typing-received"
	EventStopTypingReceived  = "stop-typing-received"
)

// Event is the envelope every named socket event travels in, both
// directions. CorrelationId is set on outbound actions and echoed back
// on the confirming broadcast.
type Event struct {
	Name          string          `json:"name"`
	CorrelationId string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an envelope with the payload marshalled in place.
func NewEvent(name, correlationId string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Name:          name,
		CorrelationId: correlationId,
		Timestamp:     Now(),
		Payload:       raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type PartyPayload struct {
	Party types.Party `json:"party"`
}

type ApplicantPayload struct {
	PartyId   string          `json:"party_id"`
	Applicant types.Applicant `json:"applicant"`
}

type TicketPayload struct {
	PartyId     string       `json:"party_id"`
	ApplicantId string       `json:"applicant_id"`
	Ticket      types.Ticket `json:"ticket"`
}

// TicketBindingPayload carries a lock/sold state change for the ticket
// binding on an applicant.
type TicketBindingPayload struct {
	PartyId     string `json:"party_id"`
	ApplicantId string `json:"applicant_id"`
	Locked      bool   `json:"locked"`
	Sold        bool   `json:"sold"`
}

type PartyStatusPayload struct {
	PartyId string            `json:"party_id"`
	Status  types.PartyStatus `json:"status"`
}

type FinishApprovalPayload struct {
	PartyId    string `json:"party_id"`
	ApproverId int    `json:"approver_id"`
}

type MessagePayload struct {
	Message types.Message `json:"message"`
}

type ReadPayload struct {
	MessageId string `json:"message_id"`
	ReaderId  int    `json:"reader_id"`
}

type MultiReadPayload struct {
	MessageIds []string `json:"message_ids"`
	ReaderId   int      `json:"reader_id"`
	PeerId     int      `json:"peer_id"`
}

type TypingPayload struct {
	UserId int `json:"user_id"`
	PeerId int `json:"peer_id"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
