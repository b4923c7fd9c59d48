package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/bootstrap"
	"github.com/yigit/coursechat/internal/config"
)

type testAPI struct {
	router *gin.Engine
	deps   *bootstrap.Dependencies
}

func newTestAPI(t *testing.T, mode string) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Mode = mode
	cfg.Server.Store = "memory"

	deps, err := bootstrap.BuildDependencies(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("build dependencies: %v", err)
	}
	t.Cleanup(deps.Close)
	return &testAPI{router: bootstrap.SetupRouter(cfg, deps, zerolog.Nop()), deps: deps}
}

func (a *testAPI) do(t *testing.T, method, path string, sender *models.Sender, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sender != nil {
		token, _, err := a.deps.JWTService.GenerateToken(*sender)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var env dto.RawAPIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", w.Body.String(), err)
	}
	if !env.Success {
		t.Fatalf("unsuccessful response: %s", w.Body.String())
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorCode {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == nil {
		t.Fatalf("decode error response %q: %v", w.Body.String(), err)
	}
	return resp.Error.Code
}

var (
	student    = models.Sender{ID: "u-s", Name: "Sam", Role: models.RoleStudent}
	classmate  = models.Sender{ID: "u-c", Name: "Cem", Role: models.RoleStudent}
	instructor = models.Sender{ID: "u-i", Name: "Ilke", Role: models.RoleInstructor}
)

func TestPing(t *testing.T) {
	api := newTestAPI(t, "test")
	w := api.do(t, http.MethodGet, "/ping", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestChannelRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t, "test")

	w := api.do(t, http.MethodGet, "/api/v1/channels/c1/messages", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if code := errorCode(t, w); code != dto.ErrorCodeUnauthorized {
		t.Fatalf("code = %s", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/c1/messages", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", w.Code)
	}
}

func TestWebsocketEndpointRejectsMissingToken(t *testing.T) {
	api := newTestAPI(t, "test")
	w := api.do(t, http.MethodGet, "/ws", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIssueDevToken(t *testing.T) {
	api := newTestAPI(t, "test")

	w := api.do(t, http.MethodPost, "/api/v1/auth/token", nil, dto.DevTokenRequest{UserID: "u-9", Name: "Nil", Role: models.RoleStudent})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var tok dto.TokenResponse
	decodeData(t, w, &tok)
	if tok.TokenType != "Bearer" || tok.AccessToken == "" || tok.ExpiresIn <= 0 {
		t.Fatalf("token response = %+v", tok)
	}

	claims, err := api.deps.JWTService.ValidateAndExtractClaims(tok.AccessToken)
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.UserID != "u-9" || claims.Role != models.RoleStudent {
		t.Fatalf("claims = %+v", claims)
	}

	w = api.do(t, http.MethodPost, "/api/v1/auth/token", nil, map[string]string{"userId": "u-9", "role": "ADMIN"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad role status = %d", w.Code)
	}
}

func TestDevTokenHiddenInProduction(t *testing.T) {
	api := newTestAPI(t, "production")
	w := api.do(t, http.MethodPost, "/api/v1/auth/token", nil, dto.DevTokenRequest{UserID: "u-9", Name: "Nil", Role: models.RoleStudent})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSendAndFetchHistory(t *testing.T) {
	api := newTestAPI(t, "test")

	for i, text := range []string{"first", "second"} {
		req := dto.SendChatMessageRequest{TempID: "t-" + text, ChannelID: "c1", Kind: "TEXT", Content: text}
		w := api.do(t, http.MethodPost, "/api/v1/channels/c1/messages", &student, req)
		if w.Code != http.StatusAccepted {
			t.Fatalf("send %d status = %d body %s", i, w.Code, w.Body.String())
		}
		var ack dto.SendAcknowledgement
		decodeData(t, w, &ack)
		if ack.TempID != req.TempID || ack.Status != "ACCEPTED" {
			t.Fatalf("ack = %+v", ack)
		}
	}

	w := api.do(t, http.MethodGet, "/api/v1/channels/c1/messages?page=1&size=10", &classmate, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var page dto.ChatMessagePage
	decodeData(t, w, &page)
	if len(page.Messages) != 2 || page.Pagination.TotalItems != 2 || page.Pagination.CurrentPage != 1 {
		t.Fatalf("page = %+v", page)
	}
	// newest first
	if page.Messages[0].Content != "second" || page.Messages[0].SenderID != student.ID {
		t.Fatalf("first entry = %+v", page.Messages[0])
	}
}

func TestSendValidation(t *testing.T) {
	api := newTestAPI(t, "test")

	tests := []struct {
		name string
		body dto.SendChatMessageRequest
	}{
		{"missing temp id", dto.SendChatMessageRequest{ChannelID: "c1", Kind: "TEXT", Content: "x"}},
		{"unknown kind", dto.SendChatMessageRequest{TempID: "t", ChannelID: "c1", Kind: "POLL", Content: "x"}},
		{"empty text", dto.SendChatMessageRequest{TempID: "t", ChannelID: "c1", Kind: "TEXT"}},
		{"channel mismatch", dto.SendChatMessageRequest{TempID: "t", ChannelID: "c2", Kind: "TEXT", Content: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/channels/c1/messages", &student, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestDeletePermissions(t *testing.T) {
	api := newTestAPI(t, "test")

	send := func(tempID string) string {
		w := api.do(t, http.MethodPost, "/api/v1/channels/c1/messages", &student,
			dto.SendChatMessageRequest{TempID: tempID, ChannelID: "c1", Kind: "TEXT", Content: tempID})
		if w.Code != http.StatusAccepted {
			t.Fatalf("send status = %d", w.Code)
		}
		msgs, _, err := api.deps.Repos.ChatRepository.ListByChannel(context.Background(), "c1", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range msgs {
			if m.TempID == tempID {
				return m.ID
			}
		}
		t.Fatalf("message %s not stored", tempID)
		return ""
	}

	id := send("t-1")
	w := api.do(t, http.MethodDelete, "/api/v1/channels/c1/messages/"+id, &classmate, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("classmate delete status = %d", w.Code)
	}
	w = api.do(t, http.MethodDelete, "/api/v1/channels/c1/messages/"+id, &student, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("owner delete status = %d", w.Code)
	}
	w = api.do(t, http.MethodDelete, "/api/v1/channels/c1/messages/"+id, &student, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}

	id = send("t-2")
	w = api.do(t, http.MethodDelete, "/api/v1/channels/c1/messages/"+id, &instructor, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("instructor delete status = %d", w.Code)
	}
}
