package ascii

import "testing"

func TestEqualFold(t *testing.T) {
	if !EqualFold("websocket", "WebSocket") {
		t.Error("websocket should match WebSocket")
	}
	if EqualFold("websocket", "websockets") {
		t.Error("length mismatch should not match")
	}
}

func TestIsPrint(t *testing.T) {
	if !IsPrint("websocket") {
		t.Error("websocket should be printable")
	}
	if IsPrint("web\x00socket") {
		t.Error("NUL should not be printable")
	}
}
