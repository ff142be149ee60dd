package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/directory"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/reports"
	"github.com/efebausal/bilshare/internal/rides"
	"github.com/efebausal/bilshare/internal/storage"
)

const maxBodyBytes = 64 << 10

var errWebhookUnconfigured = errors.New("identity webhook secret not configured")

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, "invalid request body", err)
	}
	return nil
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rides.ListFilter{
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
		Date:        q.Get("date"),
		WomenOnly:   q.Get("women_only") == "true",
	}
	if v := q.Get("min_seats"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, apperr.InvalidArgument("min_seats must be an integer"))
			return
		}
		f.MinSeats = n
	}
	if v := q.Get("max_price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, r, apperr.InvalidArgument("max_price must be a number"))
			return
		}
		f.MaxPrice = &p
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, apperr.InvalidArgument("page must be an integer"))
			return
		}
		f.Page = n
	}

	res, err := s.registry.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p rides.CreateParams
	if err := s.decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.registry.Create(r.Context(), user, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	detail, err := s.registry.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	viewer := s.optionalUser(r)
	if !driverPhoneVisible(detail, viewer) {
		detail.Driver.Phone = ""
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// driverPhoneVisible: the driver's phone is shown only to the driver and to
// passengers with an accepted request.
func driverPhoneVisible(d *storage.RideDetail, viewer *models.User) bool {
	if viewer == nil {
		return false
	}
	if viewer.ID == d.Ride.DriverID {
		return true
	}
	for _, req := range d.Requests {
		if req.PassengerID == viewer.ID && req.Status == models.RequestAccepted {
			return true
		}
	}
	return false
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.Cancel(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoinRide(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Seats int    `json:"seats"`
		Note  string `json:"note"`
	}
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.allocator.Join(r.Context(), user, mux.Vars(r)["id"], body.Seats, body.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Action models.RequestStatus `json:"action"`
	}
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.allocator.Respond(r.Context(), user, mux.Vars(r)["id"], body.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.allocator.CancelRequest(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.chat.Send(r.Context(), user, mux.Vars(r)["id"], body.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rideID := mux.Vars(r)["id"]
	ok, err := s.chat.CanParticipate(r.Context(), rideID, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, apperr.Forbidden("you must be the driver or an accepted passenger"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the response
	}
	session := s.chat.Rooms().Add(rideID, conn)
	// the stream is write-only; the read loop just detects disconnects
	go func() {
		defer s.chat.Rooms().Remove(rideID, session)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleFileReport(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p reports.FileParams
	if err := s.decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.reports.File(r.Context(), user, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p directory.ProfileParams
	if err := s.decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.directory.UpdateProfile(r.Context(), user, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.registry.Dashboard(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleIdentityWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhook == nil {
		s.writeError(w, r, apperr.Internal(errWebhookUnconfigured))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, apperr.InvalidArgument("unreadable body"))
		return
	}
	ev, err := s.webhook.Parse(body, r.Header)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindInvalidArgument, "webhook verification failed", err))
		return
	}
	if err := s.directory.ApplyIdentityEvent(r.Context(), ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
