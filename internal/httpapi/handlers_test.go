package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebausal/bilshare/internal/allocator"
	"github.com/efebausal/bilshare/internal/chat"
	"github.com/efebausal/bilshare/internal/directory"
	"github.com/efebausal/bilshare/internal/identity"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/reports"
	"github.com/efebausal/bilshare/internal/rides"
	"github.com/efebausal/bilshare/internal/storage"
)

const testSecret = "test-session-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := storage.NewMemory()
	dir := directory.New(store, "bilkent.edu.tr", logger)
	reg := rides.NewRegistry(store, nil, nil, logger, 10)
	alloc := allocator.New(store, nil, nil, logger)
	chatSvc := chat.New(store, chat.NewRegistry(logger), nil, logger)
	reps := reports.New(store, nil)
	return NewServer(logger, identity.NewTokenVerifier(testSecret), nil, dir, reg, alloc, chatSvc, reps)
}

func signToken(t *testing.T, sub, email, name string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            sub,
		"email":          email,
		"email_verified": true,
		"name":           name,
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *Server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func rideBody(seats int) map[string]any {
	return map[string]any{
		"origin":      "Bilkent Main Gate",
		"destination": "Kızılay",
		"date_time":   time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"seats_total": seats,
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/rides", "", rideBody(3))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/rides", "not-a-jwt", rideBody(3))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// wrong signing key
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_x", "email": "x@bilkent.edu.tr", "email_verified": true,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	forged, err := tok.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = srv.do(t, http.MethodPost, "/api/v1/rides", forged, rideBody(3))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDomainGateOnFirstSignIn(t *testing.T) {
	srv := newTestServer(t)

	outsider := signToken(t, "user_out", "stranger@gmail.com", "Stranger")
	rec := srv.do(t, http.MethodGet, "/api/v1/profile", outsider, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	student := signToken(t, "user_in", "ayse@bilkent.edu.tr", "Ayşe")
	rec = srv.do(t, http.MethodGet, "/api/v1/profile", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var u models.User
	decodeBody(t, rec, &u)
	assert.Equal(t, "ayse@bilkent.edu.tr", u.Email)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	driver := signToken(t, "user_driver", "driver@bilkent.edu.tr", "Derya")
	passenger := signToken(t, "user_pax", "pax@bilkent.edu.tr", "Pelin")

	rec := srv.do(t, http.MethodPost, "/api/v1/rides", driver, rideBody(2))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ride models.Ride
	decodeBody(t, rec, &ride)
	assert.Equal(t, models.RideActive, ride.Status)
	assert.Equal(t, 2, ride.SeatsAvailable)

	// listing is public
	rec = srv.do(t, http.MethodGet, "/api/v1/rides", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing rides.ListResult
	decodeBody(t, rec, &listing)
	require.Len(t, listing.Rides, 1)
	assert.Equal(t, ride.ID, listing.Rides[0].ID)

	rec = srv.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/requests", passenger,
		map[string]any{"seats": 2, "note": "two of us"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var req models.RideRequest
	decodeBody(t, rec, &req)
	assert.Equal(t, models.RequestPending, req.Status)

	rec = srv.do(t, http.MethodPost, "/api/v1/requests/"+req.ID+"/response", driver,
		map[string]any{"action": "ACCEPTED"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &req)
	assert.Equal(t, models.RequestAccepted, req.Status)

	// every seat taken, responding again conflicts
	rec = srv.do(t, http.MethodPost, "/api/v1/requests/"+req.ID+"/response", driver,
		map[string]any{"action": "REJECTED"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail storage.RideDetail
	decodeBody(t, rec, &detail)
	assert.Equal(t, models.RideFull, detail.Ride.Status)
	assert.Equal(t, 0, detail.Ride.SeatsAvailable)

	// passenger backs out, seats come back
	rec = srv.do(t, http.MethodDelete, "/api/v1/requests/"+req.ID, passenger, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &detail)
	assert.Equal(t, models.RideActive, detail.Ride.Status)
	assert.Equal(t, 2, detail.Ride.SeatsAvailable)
}

func TestDriverPhoneHiddenFromStrangers(t *testing.T) {
	srv := newTestServer(t)
	driver := signToken(t, "user_driver", "driver@bilkent.edu.tr", "Derya")
	passenger := signToken(t, "user_pax", "pax@bilkent.edu.tr", "Pelin")

	rec := srv.do(t, http.MethodPut, "/api/v1/profile", driver, map[string]any{
		"name": "Derya", "phone": "+90 555 000 0000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/rides", driver, rideBody(3))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ride models.Ride
	decodeBody(t, rec, &ride)

	var detail storage.RideDetail

	rec = srv.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, "", nil)
	decodeBody(t, rec, &detail)
	assert.Empty(t, detail.Driver.Phone, "anonymous viewer")

	rec = srv.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, passenger, nil)
	decodeBody(t, rec, &detail)
	assert.Empty(t, detail.Driver.Phone, "signed in but not accepted")

	rec = srv.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/requests", passenger,
		map[string]any{"seats": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var req models.RideRequest
	decodeBody(t, rec, &req)
	rec = srv.do(t, http.MethodPost, "/api/v1/requests/"+req.ID+"/response", driver,
		map[string]any{"action": "ACCEPTED"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, passenger, nil)
	decodeBody(t, rec, &detail)
	assert.Equal(t, "+90 555 000 0000", detail.Driver.Phone, "accepted passenger")

	rec = srv.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, driver, nil)
	decodeBody(t, rec, &detail)
	assert.Equal(t, "+90 555 000 0000", detail.Driver.Phone, "the driver themselves")
}

func TestCancelRideEndpoint(t *testing.T) {
	srv := newTestServer(t)
	driver := signToken(t, "user_driver", "driver@bilkent.edu.tr", "Derya")
	other := signToken(t, "user_other", "other@bilkent.edu.tr", "Onur")

	rec := srv.do(t, http.MethodPost, "/api/v1/rides", driver, rideBody(3))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ride models.Ride
	decodeBody(t, rec, &ride)

	rec = srv.do(t, http.MethodDelete, "/api/v1/rides/"+ride.ID, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/rides/"+ride.ID, driver, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/rides/"+ride.ID, driver, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already cancelled")

	rec = srv.do(t, http.MethodDelete, "/api/v1/rides/missing", driver, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequestBodies(t *testing.T) {
	srv := newTestServer(t)
	driver := signToken(t, "user_driver", "driver@bilkent.edu.tr", "Derya")

	// unknown fields are rejected
	rec := srv.do(t, http.MethodPost, "/api/v1/rides", driver, map[string]any{
		"origin": "A", "destination": "B",
		"date_time":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"seats_total": 2, "surprise": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/rides?min_seats=lots", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/rides?page=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageRequiresParticipation(t *testing.T) {
	srv := newTestServer(t)
	driver := signToken(t, "user_driver", "driver@bilkent.edu.tr", "Derya")
	stranger := signToken(t, "user_other", "other@bilkent.edu.tr", "Onur")

	rec := srv.do(t, http.MethodPost, "/api/v1/rides", driver, rideBody(3))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ride models.Ride
	decodeBody(t, rec, &ride)

	rec = srv.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/messages", stranger,
		map[string]any{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/messages", driver,
		map[string]any{"content": "leaving from the main gate"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	decodeBody(t, rec, &msg)
	assert.Equal(t, "leaving from the main gate", msg.Content)
}

func TestChatWebSocketStream(t *testing.T) {
	srv := newTestServer(t)
	driver := signToken(t, "user_driver", "driver@bilkent.edu.tr", "Derya")
	stranger := signToken(t, "user_other", "other@bilkent.edu.tr", "Onur")

	rec := srv.do(t, http.MethodPost, "/api/v1/rides", driver, rideBody(3))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ride models.Ride
	decodeBody(t, rec, &ride)

	ts := httptest.NewServer(srv)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/rides/" + ride.ID

	// websocket clients carry the token as a query parameter
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token="+stranger, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+driver, nil)
	require.NoError(t, err)
	defer conn.Close()

	rec = srv.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/messages", driver,
		map[string]any{"content": "see you at the gate"})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got storage.MessageWithSender
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "see you at the gate", got.Content)
	assert.Equal(t, ride.ID, got.RideID)
	assert.Equal(t, "driver@bilkent.edu.tr", got.Sender.Email)
}

func TestWebhookWithoutSecretConfigured(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/v1/webhooks/identity", "", map[string]any{"type": "user.created"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// the generic body never leaks the cause
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
