package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"amicare/internal/apperr"
	"amicare/internal/session"
)

type bookRequest struct {
	UserID string `json:"userId"`
}

type checklistRequest struct {
	Checklist []session.ChecklistItem `json:"checklist"`
}

type commentRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

type messageRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type liveStatusRequest struct {
	LiveStatus session.LiveStatus `json:"liveStatus"`
}

type verifyRequest struct {
	ClientSecret string `json:"clientSecret"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpStatus(err error) int {
	switch apperr.GetCode(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidState:
		return http.StatusConflict
	case apperr.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)

	entry := s.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	writeJSON(w, status, map[string]string{"message": apperr.UserMessage(err, "Internal server error")})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidInput, "invalid request body")
	}
	return nil
}

func (s *Server) handleSessionTab(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidInput, "userId is required"))
		return
	}

	writeJSON(w, http.StatusOK, s.store.ListFor(userID))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		sess   *session.Session
		change *LiveStatusChange
		err    error
	)

	switch action := r.PathValue("action"); action {
	case "accept":
		sess, err = s.store.Accept(id)
	case "reject":
		sess, err = s.store.Reject(id)
	case "decline":
		sess, err = s.store.Decline(id)
	case "cancel":
		sess, err = s.store.Cancel(id)
	case "book":
		var req bookRequest
		if err = decodeBody(r, &req); err == nil {
			sess, change, err = s.store.Book(id, req.UserID)
		}
	default:
		err = apperr.New(apperr.CodeNotFound, "unknown action: "+action)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.WithFields(logrus.Fields{"session_id": id, "status": sess.Status}).Info("session updated")

	if change != nil {
		s.PushLiveStatus(change)
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	var req checklistRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.UpdateChecklist(r.PathValue("id"), req.Checklist); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"checklist": req.Checklist})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := s.store.AddComment(r.PathValue("id"), req.UserID, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req Report
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.SessionID = r.PathValue("id")

	if err := s.store.AddReport(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "received"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.AddMessage(r.PathValue("id"), req.UserID, req.Message); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "sent"})
}

// handleOnboardingStatus treats every account owned by a known user as fully
// onboarded.
func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	ready := s.store.PayoutAccountKnown(r.PathValue("account"))

	writeJSON(w, http.StatusOK, map[string]bool{
		"isOnboardingComplete": ready,
		"chargesEnabled":       ready,
		"payoutsEnabled":       ready,
	})
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req PaymentIntent
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pi, err := s.store.CreateIntent(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.WithFields(logrus.Fields{"session_id": pi.SessionID, "amount": pi.Amount}).Info("payment intent created")

	writeJSON(w, http.StatusOK, map[string]string{"clientSecret": pi.ClientSecret})
}

func (s *Server) handleVerifyStatus(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.store.IntentStatus(req.ClientSecret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var u session.User
	if err := decodeBody(r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.PutUser(u); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.Session
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.store.Create(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleSetLiveStatus(w http.ResponseWriter, r *http.Request) {
	var req liveStatusRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	change, err := s.store.SetLiveStatus(r.PathValue("id"), req.LiveStatus)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.PushLiveStatus(change)

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":  change.SessionID,
		"liveStatus": change.LiveStatus,
		"version":    change.Version,
	})
}
