package protocol

import "testing"

func TestTokenizeSimple(t *testing.T) {
	msg := Tokenize([]byte("tile part=0 width=256 height=256 tileposx=0 tileposy=0 tilewidth=3840 tileheight=3840"))
	if msg.Command != "tile" {
		t.Fatalf("command = %q, want tile", msg.Command)
	}
	if v, ok := msg.GetInt("part"); !ok || v != 0 {
		t.Fatalf("part = %v,%v want 0,true", v, ok)
	}
	if v, _ := msg.GetInt("tilewidth"); v != 3840 {
		t.Fatalf("tilewidth = %d, want 3840", v)
	}
}

func TestTokenizeWithBody(t *testing.T) {
	frame := []byte("paste mimetype=text/plain;charset=utf-8\naaa bbb ccc")
	msg := Tokenize(frame)
	if msg.Command != "paste" {
		t.Fatalf("command = %q, want paste", msg.Command)
	}
	if mt, _ := msg.Get("mimetype"); mt != "text/plain;charset=utf-8" {
		t.Fatalf("mimetype = %q", mt)
	}
	if string(msg.Body) != "aaa bbb ccc" {
		t.Fatalf("body = %q", msg.Body)
	}
}

func TestTokenizeUnoPositionalCommand(t *testing.T) {
	msg := Tokenize([]byte("uno .uno:SelectAll"))
	if msg.Command != "uno" {
		t.Fatalf("command = %q, want uno", msg.Command)
	}
	if cmd, ok := msg.Get("command"); !ok || cmd != ".uno:SelectAll" {
		t.Fatalf("command arg = %q,%v want .uno:SelectAll,true", cmd, ok)
	}
}

func TestDescriptorValidateMissingKey(t *testing.T) {
	d := Registry["tile"]
	msg := Tokenize([]byte("tile part=0"))
	if err := d.Validate(msg); err == nil {
		t.Fatal("expected validation error for missing keys")
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown("load") {
		t.Fatal("load should be known")
	}
	if IsKnown("frobnicate") {
		t.Fatal("frobnicate should be unknown")
	}
}

func TestErrorFrame(t *testing.T) {
	err := &Error{Cmd: "load", Kind: KindDocAlreadyLoaded}
	want := "error: cmd=load kind=docalreadyloaded"
	if string(err.Frame()) != want {
		t.Fatalf("Frame() = %q, want %q", err.Frame(), want)
	}
	if err.Fatal() {
		t.Fatal("docalreadyloaded should not be fatal")
	}
	if !(&Error{Kind: KindBadVersion}).Fatal() {
		t.Fatal("badversion should be fatal")
	}
}
