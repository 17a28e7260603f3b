package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"chitchat/internal/config"
	"chitchat/internal/db"
	"chitchat/internal/mail"
	"chitchat/internal/service"
	"chitchat/internal/ws"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const testSecret = "test-secret"

func testConfig() config.Config {
	return config.Config{
		Port:            "8080",
		Env:             "test",
		JWTSecret:       testSecret,
		TokenTTLMinutes: 60,
		SMTPFrom:        "test@example.com",
		ResetURL:        "http://localhost:3000/resetPassword/",
	}
}

// testStore 连接本地 MongoDB，不可用时跳过用例。
func testStore(t *testing.T) *db.Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(time.Second))
	if err == nil {
		err = client.Ping(ctx, nil)
	}
	if err != nil {
		t.Skipf("skip: mongo not available: %v", err)
	}
	mdb := client.Database("chitchat_server_test")
	store := &db.Store{
		DB:    mdb,
		Users: mdb.Collection("users"),
		Rooms: mdb.Collection("rooms"),
	}
	_ = store.Users.Drop(ctx)
	_ = store.Rooms.Drop(ctx)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	})
	return store
}

// stubBlobs 测试里附件存内存即可。
type stubBlobs struct {
	files map[primitive.ObjectID][]byte
}

func newStubBlobs() *stubBlobs {
	return &stubBlobs{files: map[primitive.ObjectID][]byte{}}
}

func (s *stubBlobs) Put(ctx context.Context, r io.Reader, name string, messageID primitive.ObjectID) (primitive.ObjectID, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id := primitive.NewObjectID()
	s.files[id] = b
	return id, nil
}

func (s *stubBlobs) Get(ctx context.Context, id primitive.ObjectID) ([]byte, error) {
	b, ok := s.files[id]
	if !ok {
		return nil, service.E(service.KindStorage, service.MsgFileUnavailable)
	}
	return b, nil
}

func (s *stubBlobs) Delete(ctx context.Context, id primitive.ObjectID) error {
	delete(s.files, id)
	return nil
}

type testEnv struct {
	router *gin.Engine
	store  *db.Store
	rooms  *service.RoomService
	hub    *ws.Hub
}

func newTestEnv(t *testing.T, store *db.Store) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	mailer := mail.NewSender("", "587", "", "", cfg.SMTPFrom)
	users := service.NewUserService(store, cfg, mailer)
	rooms := service.NewRoomService(store)
	presence := service.NewPresence(store, cfg.JWTSecret)
	chat := service.NewChatService(store, newStubBlobs(), presence)
	hub := ws.NewHub()
	gw := ws.NewGateway(hub, users, rooms, chat, cfg.JWTSecret)
	h := NewHandler(users, rooms, chat, hub)
	return &testEnv{
		router: SetupRouter(cfg, store, h, gw),
		store:  store,
		rooms:  rooms,
		hub:    hub,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	// 健康检查不碰数据库，nil store 也能服务
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", w.Code)
	}
}

func TestUserEndpoint_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/user", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/user without token status = %d, want 401", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/user", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/user with garbage token status = %d, want 401", w.Code)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t, testStore(t))

	w := env.do(t, http.MethodPost, "/api/register", "", gin.H{
		"email": "alice@example.com", "name": "Alice", "password": "secret1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/register status = %d, body = %s", w.Code, w.Body.String())
	}

	// 重复注册冲突
	w = env.do(t, http.MethodPost, "/api/register", "", gin.H{
		"email": "alice@example.com", "name": "Alice", "password": "secret1",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/login?email=alice@example.com&password=wrong", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login with wrong password status = %d, want 401", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/login?email=alice@example.com&password=secret1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/login status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login response has no token")
	}
	if body["name"] != "Alice" {
		t.Errorf("login name = %v, want Alice", body["name"])
	}

	w = env.do(t, http.MethodGet, "/api/user", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/user status = %d, body = %s", w.Code, w.Body.String())
	}
	body = decodeBody(t, w)
	if body["email"] != "alice@example.com" || body["name"] != "Alice" {
		t.Errorf("GET /api/user = %v, want alice", body)
	}
}

func TestRoomEndpoints(t *testing.T) {
	env := newTestEnv(t, testStore(t))
	token := registerAndLogin(t, env, "alice@example.com", "Alice")

	room, err := env.rooms.Create(context.Background(), "bob@example.com", "General")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	w := env.do(t, http.MethodPut, "/api/rooms/join", token, gin.H{"roomId": room.ID.Hex()})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /api/rooms/join status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/rooms", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/rooms status = %d", w.Code)
	}
	body := decodeBody(t, w)
	others, _ := body["rooms"].([]interface{})
	if len(others) != 1 {
		t.Errorf("GET /api/rooms rooms = %v, want one entry", body["rooms"])
	}

	// 快照里能看到持久化成员
	w = env.do(t, http.MethodGet, "/api/chat/"+room.ID.Hex(), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/chat status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/chat/"+primitive.NewObjectID().Hex(), token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /api/chat for missing room status = %d, want 404", w.Code)
	}
}

func TestClearChat(t *testing.T) {
	env := newTestEnv(t, testStore(t))
	token := registerAndLogin(t, env, "alice@example.com", "Alice")

	room, err := env.rooms.Create(context.Background(), "alice@example.com", "General")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 无效 id 当作房间不存在
	w := env.do(t, http.MethodDelete, "/api/chat/not-an-id", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("DELETE /api/chat with bad id status = %d, want 404", w.Code)
	}

	// 空房间允许清空
	w = env.do(t, http.MethodDelete, "/api/chat/"+room.ID.Hex(), token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("DELETE /api/chat status = %d, body = %s", w.Code, w.Body.String())
	}
}

func registerAndLogin(t *testing.T, env *testEnv, email, name string) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/register", "", gin.H{
		"email": email, "name": name, "password": "secret1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register %s status = %d", email, w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/login?email="+email+"&password=secret1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s status = %d", email, w.Code)
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("no token for %s", email)
	}
	return token
}
