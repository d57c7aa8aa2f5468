package policies

import (
	"fmt"
	"testing"
	"time"

	"vendio/internal/domain/chat"
)

func listingThreads(n int, base time.Time) []chat.Conversation {
	out := make([]chat.Conversation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, chat.Conversation{
			ID:            chat.ConversationID(fmt.Sprintf("conv-%02d", i)),
			BuyerID:       "buyer",
			SellerID:      "seller",
			LastMessageAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	SortConversationsByActivity(out)
	return out
}

func TestPageConversations_WalksTheWholeListing(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sorted := listingThreads(7, base)

	seen := make(map[chat.ConversationID]bool)
	cursor := ""
	for page := 0; page < 5; page++ {
		items, next, err := PageConversations(sorted, 3, cursor)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		for _, conv := range items {
			if seen[conv.ID] {
				t.Fatalf("conversation %s returned twice", conv.ID)
			}
			seen[conv.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 7 {
		t.Fatalf("walked %d conversations, want 7", len(seen))
	}
}

func TestPageConversations_OrderedByActivityDescending(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sorted := listingThreads(4, base)

	items, next, err := PageConversations(sorted, 10, "")
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if next != "" {
		t.Fatalf("partial page emitted cursor %q", next)
	}
	for i := 1; i < len(items); i++ {
		if items[i].LastActivity().After(items[i-1].LastActivity()) {
			t.Fatalf("listing not descending at %d", i)
		}
	}
	if items[0].ID != "conv-03" {
		t.Fatalf("newest first = %s, want conv-03", items[0].ID)
	}
}

func TestPageConversations_FullPageEmitsNextCursor(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sorted := listingThreads(3, base)

	items, next, err := PageConversations(sorted, 3, "")
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(items) != 3 || next == "" {
		t.Fatalf("full page should carry a cursor, got %d items, cursor %q", len(items), next)
	}

	rest, next2, err := PageConversations(sorted, 3, next)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 0 || next2 != "" {
		t.Fatalf("exhausted listing returned %d items, cursor %q", len(rest), next2)
	}
}

func TestPageConversations_EqualActivityBreaksTiesByID(t *testing.T) {
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	sorted := []chat.Conversation{
		{ID: "conv-a", LastMessageAt: at},
		{ID: "conv-b", LastMessageAt: at},
		{ID: "conv-c", LastMessageAt: at},
	}
	SortConversationsByActivity(sorted)

	first, cursor, err := PageConversations(sorted, 2, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	second, _, err := PageConversations(sorted, 2, cursor)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("pages = %d/%d, want 2/1", len(first), len(second))
	}
	if first[0].ID != "conv-c" || first[1].ID != "conv-b" || second[0].ID != "conv-a" {
		t.Fatalf("tie ordering wrong: %s %s / %s", first[0].ID, first[1].ID, second[0].ID)
	}
}

func TestParseConversationCursor_RoundTrip(t *testing.T) {
	conv := chat.Conversation{
		ID:            "conv-42",
		LastMessageAt: time.Date(2026, 8, 1, 10, 30, 0, 123456789, time.UTC),
	}
	at, id, err := ParseConversationCursor(BuildConversationCursor(conv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !at.Equal(conv.LastMessageAt) || id != conv.ID {
		t.Fatalf("round trip lost position: %v %s", at, id)
	}
}

func TestParseConversationCursor_Malformed(t *testing.T) {
	for _, raw := range []string{"garbage", "12|", "|conv", "notanumber|conv", "1|2|3"} {
		if _, _, err := ParseConversationCursor(raw); !chat.IsValidation(err) {
			t.Fatalf("cursor %q: expected validation error, got %v", raw, err)
		}
	}
	if _, _, err := ParseConversationCursor("  "); err != nil {
		t.Fatalf("blank cursor should mean first page, got %v", err)
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{-1: 50, 0: 50, 1: 1, 200: 200, 201: 50}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
