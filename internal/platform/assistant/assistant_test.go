package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestCleanReply(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Visiting hours are 9 to 5.", "Visiting hours are 9 to 5."},
		{"\n\n<|assistant|>\nTake [two] tablets daily.\nMore text", "Take two tablets daily."},
		{"assistant: hello\nReal answer", "Real answer"},
		{"   \n  ", ""},
	}
	for _, tt := range tests {
		if got := CleanReply(tt.in); got != tt.want {
			t.Errorf("CleanReply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOllamaClient_GenerateText(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: "Please bring your ID card."}})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", "tinyllama")
	reply, err := c.GenerateText(context.Background(), HospitalPrompt, "What should I bring?")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if reply != "Please bring your ID card." {
		t.Errorf("unexpected reply %q", reply)
	}
	if got.Model != "tinyllama" || got.Stream {
		t.Errorf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != HospitalPrompt {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
	if got.Options.NumPredict != 64 {
		t.Errorf("expected num_predict 64, got %d", got.Options.NumPredict)
	}
}

func TestOllamaClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'tinyllama' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "").GenerateText(context.Background(), HospitalPrompt, "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected upstream error in message, got %v", err)
	}
}

func TestOllamaClient_EmptyPrompt(t *testing.T) {
	if _, err := NewOllamaClient("", "").GenerateText(context.Background(), HospitalPrompt, "  "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

type fakeGenerator struct {
	reply string
	err   error
}

func (f fakeGenerator) GenerateText(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func TestHandler_Chat(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		gen      fakeGenerator
		wantCode int
	}{
		{"ok", `{"message":"hello"}`, fakeGenerator{reply: "Hi there"}, http.StatusOK},
		{"empty", `{"message":"  "}`, fakeGenerator{}, http.StatusBadRequest},
		{"too long", `{"message":"` + strings.Repeat("a", MaxMessageLength+1) + `"}`, fakeGenerator{}, http.StatusBadRequest},
		{"unavailable", `{"message":"hello"}`, fakeGenerator{err: ErrUnavailable}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.gen, zerolog.Nop())
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.Chat(c)
			if tt.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !strings.Contains(rec.Body.String(), "Hi there") {
					t.Errorf("unexpected body %s", rec.Body.String())
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}
