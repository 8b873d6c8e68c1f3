package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/partyware/go-partysync/internal/types"
	"github.com/partyware/go-partysync/internal/upload"
)

type CreatePartyRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	PaymentMode string   `json:"payment_mode"`
	Fee         float64  `json:"fee"`
	Currency    string   `json:"currency"`
	Media       []string `json:"media"`
}

type ApplyRequest struct {
	Message string `json:"message"`
}

type OfferTicketRequest struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	ImageUrl string  `json:"image_url"`
}

type SettleTicketRequest struct {
	Destination string `json:"destination"`
}

type SendMessageRequest struct {
	ReceiverId int    `json:"receiver_id"`
	Content    string `json:"content"`
}

type TypingRequest struct {
	Active bool `json:"active"`
}

func (s *SyncApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SyncApp) writeSyncError(w http.ResponseWriter, err error) {
	errResp := NewSyncError(err)
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *SyncApp) createParty(w http.ResponseWriter, r *http.Request) {
	var req CreatePartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Title == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	p := types.Party{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		PaymentMode: types.PaymentMode(req.PaymentMode),
		Fee:         req.Fee,
		Currency:    req.Currency,
		Media:       req.Media,
	}
	if p.PaymentMode == "" {
		p.PaymentMode = types.PaymentFree
	}

	localId, err := s.dispatcher.CreateParty(p)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, s.store.GetPartyById(localId))
}

func (s *SyncApp) listParties(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.store.GetParties())
}

func (s *SyncApp) getParty(w http.ResponseWriter, r *http.Request) {
	p := s.store.GetPartyById(r.PathValue("id"))
	if p == nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, p)
}

func (s *SyncApp) apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.dispatcher.Apply(r.PathValue("id"), req.Message); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) acceptApplicant(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Accept(r.PathValue("id"), r.PathValue("applicantId")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) declineApplicant(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Decline(r.PathValue("id"), r.PathValue("applicantId")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) offerTicket(w http.ResponseWriter, r *http.Request) {
	var req OfferTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" || req.Price <= 0 || req.Currency == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ticket := types.Ticket{
		Name:     req.Name,
		Price:    req.Price,
		Currency: req.Currency,
		ImageUrl: req.ImageUrl,
	}

	if err := s.coordinator.OfferTicket(r.PathValue("id"), ticket); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) withdrawTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.WithdrawTicket(r.PathValue("id")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) settleTicket(w http.ResponseWriter, r *http.Request) {
	var req SettleTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Destination == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	err := s.coordinator.SettleTicket(r.Context(), r.PathValue("id"), r.PathValue("applicantId"), req.Destination)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) startPlaying(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.StartPlaying(r.PathValue("id")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) requestFinishApproval(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.RequestFinishApproval(r.PathValue("id")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) finishParty(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.FinishEvent(r.PathValue("id")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) cancelParty(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.CancelEvent(r.PathValue("id")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	m, err := s.dispatcher.SendMessage(req.ReceiverId, req.Content)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, m)
}

// sendFiles accepts a multipart form with a receiver_id field and one
// or more files parts. The upload to the media service happens before
// the message is dispatched, so this handler blocks on it.
func (s *SyncApp) sendFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	receiverId, err := strconv.Atoi(r.FormValue("receiver_id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var items []upload.Item
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		items = append(items, upload.Item{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	if len(items) == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	m, err := s.dispatcher.SendFiles(r.Context(), receiverId, items)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, m)
}

func (s *SyncApp) markRead(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.MarkRead(r.PathValue("id")); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *SyncApp) getConversation(w http.ResponseWriter, r *http.Request) {
	peerId, err := strconv.Atoi(r.PathValue("peerId"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, s.store.GetConversation(peerId))
}

func (s *SyncApp) openConversation(w http.ResponseWriter, r *http.Request) {
	peerId, err := strconv.Atoi(r.PathValue("peerId"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.OpenConversation(peerId); err != nil {
		s.writeSyncError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, s.store.GetConversation(peerId))
}

func (s *SyncApp) typing(w http.ResponseWriter, r *http.Request) {
	peerId, err := strconv.Atoi(r.PathValue("peerId"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Active {
		s.chat.Keystroke(peerId)
	} else {
		s.chat.StopComposing(peerId)
	}

	s.writeJson(w, http.StatusAccepted, nil)
}
