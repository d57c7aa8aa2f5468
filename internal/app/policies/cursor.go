package policies

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"vendio/internal/domain/chat"
)

// MaxListLimit caps one conversation listing page.
const MaxListLimit = 200

// NormalizeLimit clamps a page limit to the allowed range, defaulting to 50.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return 50
	}
	return limit
}

// BuildConversationCursor encodes a position in the last-activity ordering as
// "<activity unix nanos>|<conversation id>".
func BuildConversationCursor(conv chat.Conversation) string {
	return fmt.Sprintf("%d|%s", conv.LastActivity().UTC().UnixNano(), conv.ID)
}

// ParseConversationCursor decodes a cursor built by BuildConversationCursor.
// An empty cursor means the first page.
func ParseConversationCursor(raw string) (time.Time, chat.ConversationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, "", nil
	}
	parts := strings.Split(trimmed, "|")
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", chat.NewValidationError("cursor", errors.New("malformed cursor"))
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", chat.NewValidationError("cursor", errors.New("malformed cursor"))
	}
	return time.Unix(0, nanos).UTC(), chat.ConversationID(parts[1]), nil
}

// PageConversations slices one page out of a listing already sorted by last
// activity descending with id as descending tiebreak. Entries at or before the
// cursor position are skipped; the next cursor is returned only when a full
// page came back, so an empty cursor marks the end of the listing.
func PageConversations(sorted []chat.Conversation, limit int, cursor string) ([]chat.Conversation, string, error) {
	limit = NormalizeLimit(limit)
	cursorTime, cursorID, err := ParseConversationCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	page := make([]chat.Conversation, 0, limit)
	for _, conv := range sorted {
		if cursorID != "" {
			activity := conv.LastActivity()
			if activity.After(cursorTime) {
				continue
			}
			if activity.Equal(cursorTime) && conv.ID >= cursorID {
				continue
			}
		}
		page = append(page, conv)
		if len(page) == limit {
			break
		}
	}
	next := ""
	if len(page) == limit {
		next = BuildConversationCursor(page[len(page)-1])
	}
	return page, next, nil
}

// SortConversationsByActivity orders threads newest activity first, id as
// descending tiebreak so cursor paging is deterministic.
func SortConversationsByActivity(conversations []chat.Conversation) {
	sort.Slice(conversations, func(i, j int) bool {
		activityI, activityJ := conversations[i].LastActivity(), conversations[j].LastActivity()
		if !activityI.Equal(activityJ) {
			return activityI.After(activityJ)
		}
		return conversations[i].ID > conversations[j].ID
	})
}
