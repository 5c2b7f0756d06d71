package correlator

import (
    "testing"
    "time"
)

func TestDedupeHashStableForIdenticalInbound(t *testing.T) {
    in := Inbound{
        GroupChatID: "chat-1",
        SenderID:    "bot-7",
        Text:        "Your WhatsApp code is 482913 to +201112223344",
        ReceivedAt:  time.Unix(1700000000, 0),
    }
    h1 := dedupeHash(in)
    h2 := dedupeHash(in)
    if h1 != h2 {
        t.Fatalf("expected stable hash for identical inbound, got %q vs %q", h1, h2)
    }
}

func TestDedupeHashDiffersOnText(t *testing.T) {
    base := Inbound{GroupChatID: "chat-1", SenderID: "bot-7", ReceivedAt: time.Unix(1700000000, 0)}
    a := base
    a.Text = "code 111111"
    b := base
    b.Text = "code 222222"
    if dedupeHash(a) == dedupeHash(b) {
        t.Fatal("expected distinct hashes for distinct message text")
    }
}

func TestDedupeHashDiffersOnReceivedAt(t *testing.T) {
    base := Inbound{GroupChatID: "chat-1", SenderID: "bot-7", Text: "code 111111"}
    a := base
    a.ReceivedAt = time.Unix(1700000000, 0)
    b := base
    b.ReceivedAt = time.Unix(1700000001, 0)
    if dedupeHash(a) == dedupeHash(b) {
        t.Fatal("expected distinct hashes for distinct receivedAt")
    }
}
