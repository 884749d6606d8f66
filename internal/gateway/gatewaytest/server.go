// Package gatewaytest provides an in-process fake of the hostel API for
// tests, in the manner of net/http/httptest.
package gatewaytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword is the password assigned to seeded students, matching the
// hostel office's default.
const DefaultPassword = "changeme@123"

var femaleLocations = map[string]bool{"GH1 (BH3)": true, "GH2": true, "GH3 (BH1)": true}

// Student is a seeded account.
type Student struct {
	ID           int64
	Email        string
	Name         string
	Gender       string
	FirstLogin   bool
	RoomID       *int64
	PaymentState string
	passwordHash string
}

// Room is a seeded room category.
type Room struct {
	ID             int64   `json:"id"`
	Category       string  `json:"category"`
	Location       string  `json:"location"`
	Menu           string  `json:"menu"`
	PaxPerRoom     int     `json:"pax_per_room"`
	AvailableSeats int     `json:"available_seats"`
	Price          string  `json:"price"`
	Gender         string  `json:"gender"`
	Photos         []Photo `json:"photos"`
}

// Photo is a room picture.
type Photo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Image     string `json:"image"`
	IsPrimary bool   `json:"is_primary"`
}

type otpRecord struct {
	code    string
	created time.Time
	used    bool
}

type payment struct {
	ID            int64     `json:"id"`
	Room          int64     `json:"room"`
	Amount        string    `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	student       int64
}

type fault struct {
	status int
	detail string
	delay  time.Duration
}

// Server is a fake hostel API.
type Server struct {
	*httptest.Server

	secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration

	mu          sync.Mutex
	students    map[string]*Student
	rooms       map[int64]*Room
	otps        map[int64]*otpRecord
	payments    []*payment
	idempotency map[string][]byte
	faults      map[string][]fault
	calls       map[string]int
	headers     map[string]http.Header
	nextID      int64
}

// NewServer starts a fake hostel API. Close it when done.
func NewServer() *Server {
	s := &Server{
		secret:      []byte("gatewaytest-secret"),
		AccessTTL:   5 * time.Minute,
		RefreshTTL:  24 * time.Hour,
		OTPTTL:      10 * time.Minute,
		students:    make(map[string]*Student),
		rooms:       make(map[int64]*Room),
		otps:        make(map[int64]*otpRecord),
		idempotency: make(map[string][]byte),
		faults:      make(map[string][]fault),
		calls:       make(map[string]int),
		headers:     make(map[string]http.Header),
		nextID:      100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token/", s.handleLogin)
	mux.HandleFunc("POST /api/token/refresh/", s.handleRefresh)
	mux.HandleFunc("GET /api/students/my_profile/", s.authed(s.handleProfile))
	mux.HandleFunc("PATCH /api/students/me/", s.authed(s.handleUpdateProfile))
	mux.HandleFunc("POST /api/students/change_password/", s.authed(s.handleChangePassword))
	mux.HandleFunc("GET /api/rooms/", s.authed(s.handleRooms))
	mux.HandleFunc("GET /api/payments/", s.authed(s.handlePayments))
	mux.HandleFunc("POST /api/student/request-otp/", s.authed(s.handleRequestOTP))
	mux.HandleFunc("POST /api/student/verify-otp/", s.authed(s.handleVerifyOTP))
	mux.HandleFunc("POST /api/student/make-payment/", s.authed(s.handlePayment))

	s.Server = httptest.NewServer(s.instrument(mux))
	return s
}

// BaseURL is the API root to configure the gateway client with.
func (s *Server) BaseURL() string {
	return s.URL + "/api/"
}

// AddStudent seeds an account with DefaultPassword and a pending first login.
func (s *Server) AddStudent(email, name, gender string) *Student {
	return s.AddStudentWithPassword(email, name, gender, DefaultPassword, true)
}

// AddStudentWithPassword seeds an account with an explicit password.
func (s *Server) AddStudentWithPassword(email, name, gender, password string, firstLogin bool) *Student {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("gatewaytest: hash password: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	st := &Student{
		ID:           s.nextID,
		Email:        email,
		Name:         name,
		Gender:       gender,
		FirstLogin:   firstLogin,
		PaymentState: "No Request",
		passwordHash: string(hash),
	}
	s.students[strings.ToLower(email)] = st
	return st
}

// AddRoom seeds a room. Gender is derived from the location.
func (s *Server) AddRoom(category, location, menu string, pax, seats int, price string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	gender := "Male"
	if femaleLocations[location] {
		gender = "Female"
	}
	r := &Room{
		ID:             s.nextID,
		Category:       category,
		Location:       location,
		Menu:           menu,
		PaxPerRoom:     pax,
		AvailableSeats: seats,
		Price:          price,
		Gender:         gender,
		Photos:         []Photo{{ID: s.nextID * 10, Title: "front", Image: "/media/" + strconv.FormatInt(s.nextID, 10) + ".jpg", IsPrimary: true}},
	}
	s.rooms[r.ID] = r
	return r
}

// Seats returns the current available seat count of a room.
func (s *Server) Seats(roomID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.AvailableSeats
	}
	return -1
}

// Student returns a copy of the account registered under email.
func (s *Server) Student(email string) Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.students[strings.ToLower(email)]; ok {
		return *st
	}
	return Student{}
}

// LastOTP returns the most recent code mailed to email.
func (s *Server) LastOTP(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[strings.ToLower(email)]
	if !ok {
		return ""
	}
	if rec, ok := s.otps[st.ID]; ok {
		return rec.code
	}
	return ""
}

// FailNext makes the next call to path ("token/", "student/make-payment/", ...)
// answer status with detail instead of being handled.
func (s *Server) FailNext(path string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = append(s.faults[path], fault{status: status, detail: detail})
}

// DelayNext makes the next call to path sleep before being handled. The
// request is still handled if the client gave up waiting, as a real server
// would.
func (s *Server) DelayNext(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = append(s.faults[path], fault{delay: d})
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastHeader returns a header of the most recent request to path.
func (s *Server) LastHeader(path, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.headers[path]; ok {
		return h.Get(name)
	}
	return ""
}

// IssueAccessToken signs an access token for a student, as the login
// endpoint would. ttl may be negative to produce an expired token.
func (s *Server) IssueAccessToken(st Student, ttl time.Duration) string {
	token, err := s.sign(st, "access", ttl)
	if err != nil {
		panic(fmt.Sprintf("gatewaytest: sign token: %v", err))
	}
	return token
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		s.mu.Lock()
		s.calls[path]++
		s.headers[path] = r.Header.Clone()
		var f *fault
		if queue := s.faults[path]; len(queue) > 0 {
			f = &queue[0]
			s.faults[path] = queue[1:]
		}
		s.mu.Unlock()

		if f != nil {
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
			if f.status != 0 {
				writeDetail(w, f.status, f.detail)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sign(st Student, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"token_type":     kind,
		"user_id":        st.ID,
		"username":       st.Email,
		"name":           st.Name,
		"is_first_login": st.FirstLogin,
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
		"jti":            strconv.FormatInt(now.UnixNano(), 36),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verify(token, kind string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}
	if claims["token_type"] != kind {
		return 0, errors.New("wrong token type")
	}
	id, ok := claims["user_id"].(float64)
	if !ok {
		return 0, errors.New("token has no user_id")
	}
	return int64(id), nil
}

type authedHandler func(w http.ResponseWriter, r *http.Request, st *Student)

func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		id, err := s.verify(strings.TrimPrefix(header, "Bearer "), "access")
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		s.mu.Lock()
		st := s.studentByID(id)
		s.mu.Unlock()
		if st == nil {
			writeDetail(w, http.StatusNotFound, "Student profile not found for current user.")
			return
		}
		next(w, r, st)
	}
}

// studentByID must be called with s.mu held.
func (s *Server) studentByID(id int64) *Student {
	for _, st := range s.students {
		if st.ID == id {
			return st
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func randomCode() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}
