package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/convoys/list", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenValidator{
			validateErr: jwt.ErrTokenExpired,
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
	if payload := decodeBody(t, recorder); payload["code"] != codeExpiredToken {
		t.Fatalf("unexpected error code %v", payload["code"])
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/convoys/list", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenValidator{
			validateErr: errors.New("signature mismatch"),
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestAuthorizeRequestRejectsMissingBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name   string
		header string
	}{
		{name: "no-header", header: ""},
		{name: "basic-scheme", header: "Basic abc"},
		{name: "empty-token", header: "Bearer   "},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/api/convoys/list", http.NoBody)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			ctx.Request = request

			handler := &httpHandler{tokens: stubTokenValidator{subject: "dispatcher-1"}, logger: zap.NewNop()}
			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			if payload := decodeBody(t, recorder); payload["code"] != codeMissingToken {
				t.Fatalf("unexpected error code %v", payload["code"])
			}
		})
	}
}

func TestAuthorizeRequestStoresOperator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/convoys/list", http.NoBody)
	request.Header.Set("Authorization", "Bearer good-token")
	ctx.Request = request

	handler := &httpHandler{tokens: stubTokenValidator{subject: "dispatcher-9"}, logger: zap.NewNop()}
	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to pass authorization")
	}
	if operator := ctx.GetString(operatorContextKey); operator != "dispatcher-9" {
		t.Fatalf("unexpected operator %q", operator)
	}
}
