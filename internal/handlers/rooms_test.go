package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/banya/internal/config"
	"github.com/thereayou/banya/internal/database"
	"github.com/thereayou/banya/internal/middleware"
	"github.com/thereayou/banya/internal/room"
	"github.com/thereayou/banya/internal/stream"
	"github.com/thereayou/banya/internal/sublog"
	"github.com/thereayou/banya/pkg/identity"
)

type testServer struct {
	router     *gin.Engine
	registry   *room.Registry
	db         *database.Database
	filmstrips *FilmstripStore
	cfg        *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ReconnectInterval: 3 * time.Second,
		FilmstripMaxBytes: 64 * 1024,
		FilmstripSize:     8,
		FilmstripFrames:   2,
	}

	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	registry := room.NewRegistry([]config.RoomConfig{
		{RoomID: "bath-hall", HumanName: "Банный зал", MaxPeople: 3},
	})
	sessions := stream.NewManager(time.Minute)

	filmstrips := NewFilmstripStore()
	for _, rm := range registry.List() {
		filmstrips.Watch(rm)
	}

	roomH := NewRoomHandler(registry, sessions, db, filmstrips, cfg)

	r := gin.New()
	r.Use(middleware.Signed())
	rooms := r.Group("/rooms")
	{
		rooms.GET("", roomH.ListRooms)
		rooms.GET("/:roomID", roomH.GetRoom)
		rooms.GET("/:roomID/event-stream", middleware.RequireSignature(), roomH.EventStream)
		rooms.POST("/:roomID/send", middleware.RequireSignature(), roomH.Send)
		rooms.POST("/:roomID/set-attributes", middleware.RequireSignature(), roomH.SetAttributes)
		rooms.POST("/:roomID/leave", middleware.RequireSignature(), roomH.Leave)
		rooms.POST("/:roomID/architecture", middleware.RequireSignature(), roomH.SetArchitecture)
		rooms.POST("/:roomID/filmstrips", middleware.RequireSignature(), roomH.UploadFilmstrip)
		rooms.GET("/:roomID/filmstrips/:identity", roomH.GetFilmstrip)
	}

	return &testServer{router: r, registry: registry, db: db, filmstrips: filmstrips, cfg: cfg}
}

func (s *testServer) room(t *testing.T) *room.Room {
	t.Helper()
	rm, ok := s.registry.Get("bath-hall")
	require.True(t, ok)
	return rm
}

func signedRequest(t *testing.T, id *identity.Identity, method, target, contentType string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range id.SignRequest(req.URL.Path, body) {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

// closeNotifyRecorder дополняет httptest.ResponseRecorder методом
// CloseNotify, который требует gin при потоковой отдаче
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(&closeNotifyRecorder{ResponseRecorder: w, closed: make(chan bool, 1)}, req)
	return w
}

func TestListRooms(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var infos []room.PublicInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	require.Equal(t, "bath-hall", infos[0].RoomID)
	require.Equal(t, "Банный зал", infos[0].HumanName)
	require.Equal(t, 0, infos[0].HeadCount)
}

func TestGetRoom(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/rooms/bath-hall", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/rooms/no-such-room", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "specified room does not exist")
}

func TestEventStreamSendsSnapshotAndRetry(t *testing.T) {
	s := newTestServer(t)

	id, err := identity.New()
	require.NoError(t, err)

	target, err := id.SignedQuery("/rooms/bath-hall/event-stream", streamProps{
		Attributes: map[string]any{"hue": 0.5},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)

	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "retry:3000")
	require.Contains(t, body, "event:roomState")
	require.Contains(t, body, `"roomID":"bath-hall"`)
}

func TestEventStreamRequiresAttributes(t *testing.T) {
	s := newTestServer(t)

	id, err := identity.New()
	require.NoError(t, err)

	// подписанный запрос без параметра data
	req := signedRequest(t, id, http.MethodGet, "/rooms/bath-hall/event-stream", "", nil)
	w := s.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "attributes property required")
}

func TestEventStreamRequiresSignature(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/rooms/bath-hall/event-stream", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSend(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	var messages []room.MessagePayload
	rm.Watch(func(e sublog.Entry) {
		if e.Type == sublog.TypeMessage {
			messages = append(messages, e.Payload.(room.MessagePayload))
		}
	})

	body := []byte(`{"to":"bob-key","note":"ку-ку"}`)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/send", "application/json", body))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, messages, 1)
	require.Equal(t, id.PublicBase64(), messages[0].From)
	require.Equal(t, "bob-key", messages[0].To)
	require.JSONEq(t, string(body), string(messages[0].Body))
}

func TestSendRequiresMembership(t *testing.T) {
	s := newTestServer(t)

	id, err := identity.New()
	require.NoError(t, err)

	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/send", "application/json", []byte(`{"note":1}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetAttributes(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), map[string]any{"hue": 0.1})
	require.NoError(t, err)

	body := []byte(`{"updates": [[["hue"], 0.9], [["note"], "веник"]]}`)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/set-attributes", "application/json", body))
	require.Equal(t, http.StatusOK, w.Code)

	person := rm.GetPerson(id.PublicBase64())
	require.Equal(t, 0.9, person.Attributes["hue"])
	require.Equal(t, "веник", person.Attributes["note"])
}

func TestSetAttributesRejectsEscapePaths(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	// пути всегда получают префикс attributes, поэтому authority
	// оказывается обычным ключом внутри атрибутов
	body := []byte(`{"updates": [[["authority"], "admin"]]}`)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/set-attributes", "application/json", body))
	require.Equal(t, http.StatusOK, w.Code)

	person := rm.GetPerson(id.PublicBase64())
	require.Empty(t, person.Authority)
	require.Equal(t, "admin", person.Attributes["authority"])
}

func TestSetAttributesRejectsMalformedUpdates(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/set-attributes", "application/json", []byte(`{"updates": "nope"}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/set-attributes", "application/json", []byte(`{}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeave(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	// тело без подтверждения отклоняется
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/leave", "application/json", []byte(`{}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, rm.GetPerson(id.PublicBase64()))

	w = s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/leave", "application/json", []byte(`{"leave":true}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, rm.GetPerson(id.PublicBase64()))
}

func TestSetArchitectureRequiresAdminBadge(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)

	badge := identity.NewBadge([]byte("server secret"))
	token, err := badge.Issue(id.PublicBase64())
	require.NoError(t, err)

	// ключ бейджа не зарегистрирован
	body, err := json.Marshal(gin.H{"badge": token, "architecture": gin.H{"walls": "cedar"}, "architectureName": "sauna-v2"})
	require.NoError(t, err)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/architecture", "application/json", body))
	require.Equal(t, http.StatusForbidden, w.Code)

	// модераторской роли недостаточно
	require.NoError(t, s.db.SetAuthority(badge.Key, "moderator", ""))
	w = s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/architecture", "application/json", body))
	require.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, s.db.SetAuthority(badge.Key, "admin", ""))
	w = s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/architecture", "application/json", body))
	require.Equal(t, http.StatusOK, w.Code)

	state := rm.StateData()
	require.Equal(t, "sauna-v2", state.ArchitectureName)
	require.JSONEq(t, `{"walls":"cedar"}`, string(state.Architecture))

	entries, err := s.db.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "architecture", entries[0].Type)
	require.Equal(t, id.PublicBase64(), entries[0].Actor)
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height)), nil))
	return buf.Bytes()
}

func TestFilmstripUploadAndFetch(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	data := testJPEG(t, s.cfg.FilmstripSize, s.cfg.FilmstripSize*s.cfg.FilmstripFrames)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/filmstrips", "image/jpeg", data))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Filmstamp string `json:"filmstamp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Filmstamp)
	require.Equal(t, resp.Filmstamp, rm.GetPerson(id.PublicBase64()).Filmstamp)

	w = s.do(httptest.NewRequest(http.MethodGet, "/rooms/bath-hall/filmstrips/"+id.PublicBase64(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	require.Equal(t, data, w.Body.Bytes())
}

func TestFilmstripRejectsWrongGeometry(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	data := testJPEG(t, s.cfg.FilmstripSize*2, s.cfg.FilmstripSize*s.cfg.FilmstripFrames)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/filmstrips", "image/jpeg", data))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "width is incorrect")

	data = testJPEG(t, s.cfg.FilmstripSize, s.cfg.FilmstripSize)
	w = s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/filmstrips", "image/jpeg", data))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "height is incorrect")
}

func TestFilmstripRequiresMembershipAndJPEG(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)

	data := testJPEG(t, s.cfg.FilmstripSize, s.cfg.FilmstripSize*s.cfg.FilmstripFrames)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/filmstrips", "image/jpeg", data))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "not in this room")

	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	w = s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/filmstrips", "text/plain", data))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "must be a JPEG")
}

func TestFilmstripClearedOnLeave(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	id, err := identity.New()
	require.NoError(t, err)
	_, err = rm.PersonJoin(id.PublicBase64(), nil)
	require.NoError(t, err)

	data := testJPEG(t, s.cfg.FilmstripSize, s.cfg.FilmstripSize*s.cfg.FilmstripFrames)
	w := s.do(signedRequest(t, id, http.MethodPost, "/rooms/bath-hall/filmstrips", "image/jpeg", data))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, rm.PersonLeave(id.PublicBase64()))

	_, ok := s.filmstrips.Get("bath-hall", id.PublicBase64())
	require.False(t, ok)
}

func TestRoomFullMapsToTooManyRequests(t *testing.T) {
	s := newTestServer(t)
	rm := s.room(t)

	for _, who := range []string{"a", "b", "c"} {
		_, err := rm.PersonJoin(who, nil)
		require.NoError(t, err)
	}

	id, err := identity.New()
	require.NoError(t, err)

	target, err := id.SignedQuery("/rooms/bath-hall/event-stream", streamProps{
		Attributes: map[string]any{},
	})
	require.NoError(t, err)

	w := s.do(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}
