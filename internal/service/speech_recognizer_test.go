package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"speaking_backend/internal/config"

	"github.com/gorilla/websocket"
)

// gatewayServer 模拟语音网关：依次推送 events
func gatewayServer(t *testing.T, events []streamEvent) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(subscriptionKeyHeader) != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("language") != "en-GB" {
			t.Errorf("language = %q", r.URL.Query().Get("language"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var start streamStart
		if err := conn.ReadJSON(&start); err != nil {
			t.Errorf("read start: %v", err)
			return
		}
		if start.Type != "start" || start.AudioURL != "https://cdn.test/a.mp3" {
			t.Errorf("unexpected start message %+v", start)
		}
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		conn.ReadMessage()
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestGatewayTranscribe(t *testing.T) {
	srv := gatewayServer(t, []streamEvent{
		{Type: eventRecognized, Text: " Hello there. "},
		{Type: eventRecognized, Text: "  "},
		{Type: eventRecognized, Text: "How are you?"},
		{Type: eventSessionStopped},
	})
	defer srv.Close()

	g := NewGatewayRecognizer(config.SpeechConfig{StreamURL: wsURL(srv.URL), SubscriptionKey: "secret"}, nil)

	var segments []string
	err := g.Transcribe(context.Background(), "https://cdn.test/a.mp3", "en-GB", func(s string) {
		segments = append(segments, s)
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := joinSegments(segments); got != "Hello there. How are you?" {
		t.Errorf("joined transcript = %q", got)
	}
}

func TestGatewayTranscribeCanceled(t *testing.T) {
	tests := []struct {
		name    string
		event   streamEvent
		wantErr bool
	}{
		{"end of stream", streamEvent{Type: eventCanceled, Reason: "EndOfStream"}, false},
		{"error", streamEvent{Type: eventCanceled, Reason: "Error", ErrorDetails: "bad audio"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := gatewayServer(t, []streamEvent{{Type: eventRecognized, Text: "partial"}, tt.event})
			defer srv.Close()

			g := NewGatewayRecognizer(config.SpeechConfig{StreamURL: wsURL(srv.URL), SubscriptionKey: "secret"}, nil)
			var segments []string
			err := g.Transcribe(context.Background(), "https://cdn.test/a.mp3", "en-GB", func(s string) {
				segments = append(segments, s)
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(segments) != 1 {
				t.Errorf("segments = %v", segments)
			}
		})
	}
}

func TestGatewayTranscribeUnauthorized(t *testing.T) {
	srv := gatewayServer(t, nil)
	defer srv.Close()

	g := NewGatewayRecognizer(config.SpeechConfig{StreamURL: wsURL(srv.URL), SubscriptionKey: "wrong"}, nil)
	if err := g.Transcribe(context.Background(), "https://cdn.test/a.mp3", "en-GB", nil); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestGatewayAssessPronunciation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req assessRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ReferenceText == "" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"recognition_status":"NoMatch"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"recognition_status":"Success","display_text":"hello there","accuracy_score":91,"fluency_score":84,"completeness_score":100,"pronunciation_score":88.4}`))
	}))
	defer srv.Close()

	g := NewGatewayRecognizer(config.SpeechConfig{AssessURL: srv.URL}, nil)

	got, err := g.AssessPronunciation(context.Background(), "https://cdn.test/a.mp3", "hello there", "en-GB")
	if err != nil {
		t.Fatalf("AssessPronunciation: %v", err)
	}
	want := PronunciationScores{Transcript: "hello there", Accuracy: 91, Fluency: 84, Completeness: 100, Pronunciation: 88.4}
	if *got != want {
		t.Errorf("got %+v, want %+v", *got, want)
	}

	if _, err := g.AssessPronunciation(context.Background(), "https://cdn.test/a.mp3", "", "en-GB"); err == nil {
		t.Error("expected error for NoMatch")
	}
}

func TestHTTPAssetProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		switch r.URL.Path {
		case "/big.mp3":
			w.Header().Set("Content-Length", "4096")
		case "/tiny.mp3":
			w.Header().Set("Content-Length", "100")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	probe := NewHTTPAssetProbe(nil, 2048)
	tests := []struct {
		path string
		want bool
	}{
		{"/big.mp3", true},
		{"/tiny.mp3", false},
		{"/missing.mp3", false},
	}
	for _, tt := range tests {
		got, err := probe.Ready(context.Background(), srv.URL+tt.path)
		if err != nil {
			t.Fatalf("Ready(%s): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Ready(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
