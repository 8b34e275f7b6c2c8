package gateway

import "testing"

func TestParseWorkerAnnounce(t *testing.T) {
	link, err := parseWorkerAnnounce("child jail-abc sess-123 4242", nil)
	if err != nil {
		t.Fatalf("parseWorkerAnnounce: %v", err)
	}
	if link.jailID != "jail-abc" {
		t.Errorf("jailID = %q, want jail-abc", link.jailID)
	}
	if string(link.sessionID) != "sess-123" {
		t.Errorf("sessionID = %q, want sess-123", link.sessionID)
	}
	if link.pid != 4242 {
		t.Errorf("pid = %d, want 4242", link.pid)
	}
}

func TestParseWorkerAnnounceMalformed(t *testing.T) {
	cases := []string{
		"",
		"child jail-abc",
		"notchild jail-abc sess-123 4242",
		"child jail-abc sess-123 notanumber",
	}
	for _, c := range cases {
		if _, err := parseWorkerAnnounce(c, nil); err == nil {
			t.Errorf("parseWorkerAnnounce(%q) expected error, got nil", c)
		}
	}
}
