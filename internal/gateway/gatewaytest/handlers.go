package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	s.mu.Lock()
	st, ok := s.students[strings.ToLower(strings.TrimSpace(req.Username))]
	var snapshot Student
	if ok {
		snapshot = *st
	}
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(snapshot.passwordHash), []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	access, err := s.sign(snapshot, "access", s.AccessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	refresh, err := s.sign(snapshot, "refresh", s.RefreshTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	id, err := s.verify(req.Refresh, "refresh")
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	s.mu.Lock()
	st := s.studentByID(id)
	var snapshot Student
	if st != nil {
		snapshot = *st
	}
	s.mu.Unlock()
	if st == nil {
		writeDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	access, err := s.sign(snapshot, "access", s.AccessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) profileBody(st *Student) map[string]any {
	first, last, _ := strings.Cut(st.Name, " ")
	return map[string]any{
		"id":             st.ID,
		"name":           st.Name,
		"first_name":     first,
		"last_name":      last,
		"email":          st.Email,
		"gender":         st.Gender,
		"room":           st.RoomID,
		"payment_status": st.PaymentState,
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, st *Student) {
	s.mu.Lock()
	body := s.profileBody(st)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, st *Student) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	first, last, _ := strings.Cut(st.Name, " ")
	if v, ok := req["first_name"]; ok {
		first = v
	}
	if v, ok := req["last_name"]; ok {
		last = v
	}
	st.Name = strings.TrimSpace(first + " " + last)
	writeJSON(w, http.StatusOK, s.profileBody(st))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, st *Student) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bcrypt.CompareHashAndPassword([]byte(st.passwordHash), []byte(req.OldPassword)) != nil {
		writeDetail(w, http.StatusBadRequest, "Current password is incorrect.")
		return
	}
	if len(req.NewPassword) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"new_password": {"Ensure this field has at least 8 characters."}})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	st.passwordHash = string(hash)
	st.FirstLogin = false
	writeDetail(w, http.StatusOK, "Password changed successfully.")
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request, st *Student) {
	q := r.URL.Query()
	gender := q.Get("gender")
	menu := q.Get("menu")
	capacity, _ := strconv.Atoi(q.Get("capacity"))

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if room.AvailableSeats <= 0 {
			continue
		}
		if gender != "" && room.Gender != gender {
			continue
		}
		if menu != "" && room.Menu != menu {
			continue
		}
		if capacity > 0 && room.PaxPerRoom != capacity {
			continue
		}
		out = append(out, *room)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request, st *Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payment, 0)
	for _, p := range s.payments {
		if p.student == st.ID {
			out = append(out, *p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request, st *Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps[st.ID] = &otpRecord{code: randomCode(), created: time.Now()}
	writeDetail(w, http.StatusOK, "OTP sent successfully")
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request, st *Student) {
	var req struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OTP == "" {
		writeDetail(w, http.StatusBadRequest, "OTP is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.otps[st.ID]
	switch {
	case !ok || rec.used:
		writeDetail(w, http.StatusBadRequest, "No active OTP found. Please request a new one.")
	case time.Since(rec.created) > s.OTPTTL:
		writeDetail(w, http.StatusBadRequest, "OTP has expired. Please request a new one.")
	case rec.code != req.OTP:
		writeDetail(w, http.StatusBadRequest, "Invalid OTP")
	default:
		rec.used = true
		writeDetail(w, http.StatusOK, "OTP verified successfully")
	}
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request, st *Student) {
	var req struct {
		RoomID        int64  `json:"room_id"`
		Amount        int64  `json:"amount"`
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == 0 || req.TransactionID == "" {
		writeDetail(w, http.StatusBadRequest, "Room ID and transaction ID are required")
		return
	}
	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	defer s.mu.Unlock()
	if key != "" {
		if prev, ok := s.idempotency[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(prev)
			return
		}
	}
	room, ok := s.rooms[req.RoomID]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Room not found.")
		return
	}
	if room.AvailableSeats <= 0 {
		writeDetail(w, http.StatusBadRequest, "This room has no available seats.")
		return
	}
	if st.RoomID != nil && st.PaymentState == "Confirmed" {
		writeDetail(w, http.StatusBadRequest, "You already have a confirmed room assignment.")
		return
	}
	if st.PaymentState == "Pending" {
		for _, p := range s.payments {
			if p.student == st.ID && p.Status == "Pending" {
				p.Status = "Failed"
				if prev, ok := s.rooms[p.Room]; ok {
					prev.AvailableSeats++
				}
			}
		}
	}

	s.nextID++
	p := &payment{
		ID:            s.nextID,
		Room:          room.ID,
		Amount:        room.Price,
		TransactionID: req.TransactionID,
		Status:        "Pending",
		CreatedAt:     time.Now().UTC(),
		student:       st.ID,
	}
	s.payments = append(s.payments, p)
	room.AvailableSeats--
	roomID := room.ID
	st.RoomID = &roomID
	st.PaymentState = "Pending"

	body, _ := json.Marshal(map[string]any{
		"detail":     "Payment submitted successfully. Your booking request is pending admin approval.",
		"payment_id": p.ID,
	})
	if key != "" {
		s.idempotency[key] = body
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ConfirmPayment simulates the admin approving the student's pending payment.
func (s *Server) ConfirmPayment(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[strings.ToLower(email)]
	if !ok {
		return fmt.Errorf("no student %s", email)
	}
	for _, p := range s.payments {
		if p.student == st.ID && p.Status == "Pending" {
			p.Status = "Confirmed"
		}
	}
	st.PaymentState = "Confirmed"
	return nil
}
