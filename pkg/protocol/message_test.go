package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "log message",
			msgType: TypeLog,
			data:    "Started animation \"wave\"",
			wantErr: false,
		},
		{
			name:    "servo array",
			msgType: TypeCurrentServos,
			data:    []float64{1, 2, 3},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypeReloadOptions,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeLog,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"set-state","data":"looking"}`))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.Type != TypeSetState {
		t.Errorf("Type = %v, want %v", msg.Type, TypeSetState)
	}

	if _, err := ParseMessage([]byte(`{"data":"x"}`)); err == nil {
		t.Error("ParseMessage() should reject a message without type")
	}
	if _, err := ParseMessage([]byte(`not json`)); err == nil {
		t.Error("ParseMessage() should reject invalid JSON")
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{`"true"`, "true"},
		{`true`, "true"},
		{`"500"`, "500"},
		{`500`, "500"},
		{`{"jaw": 10}`, `{"jaw": 10}`},
		{`null`, ""},
		{``, ""},
	}

	for _, tt := range tests {
		msg := &Message{Type: TypeSetVision, Data: json.RawMessage(tt.data)}
		got, err := msg.Text()
		if err != nil {
			t.Errorf("Text(%s) error = %v", tt.data, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Text(%s) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestVisionDataURI(t *testing.T) {
	img := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header

	msg, err := NewMessage(TypeVision, VisionDataURI("jpeg", img))
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	var uri string
	if err := msg.ParseData(&uri); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}

	payload, ok := strings.CutPrefix(uri, "data:image/jpeg;base64,")
	if !ok {
		t.Fatalf("uri = %q, want a jpeg data URI", uri)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if string(decoded) != string(img) {
		t.Errorf("decoded = %v, want %v", decoded, img)
	}
}

func TestCycleHz(t *testing.T) {
	tests := []struct {
		seconds float64
		want    float64
	}{
		{0.05, 20},
		{0.3, 3.3},
		{1, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := CycleHz(tt.seconds); got != tt.want {
			t.Errorf("CycleHz(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestResponseTime(t *testing.T) {
	if got := ResponseTime(42, false); got != "42ms" {
		t.Errorf("ResponseTime() = %q, want 42ms", got)
	}
	if got := ResponseTime(0, true); got != "TIMED OUT" {
		t.Errorf("ResponseTime() = %q, want TIMED OUT", got)
	}
}

func TestReporterFunc(t *testing.T) {
	var gotType MessageType
	var gotData interface{}
	r := ReporterFunc(func(msgType MessageType, data interface{}) {
		gotType, gotData = msgType, data
	})

	r.Report(TypeControllerState, "Looking")
	if gotType != TypeControllerState || gotData != "Looking" {
		t.Errorf("Report() forwarded (%v, %v)", gotType, gotData)
	}

	Discard.Report(TypeLog, "ignored")
}
