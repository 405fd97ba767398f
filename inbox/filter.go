package inbox

import "fmt"

// A Filter is a feed category.
type Filter string

const (
	FilterAll           Filter = "all"
	FilterSMS           Filter = "sms"
	FilterTeam          Filter = "team"
	FilterTickets       Filter = "tickets"
	FilterAlerts        Filter = "alerts"
	FilterChats         Filter = "chats"
	FilterAnnouncements Filter = "announcements"
	FilterArchived      Filter = "archived"
)

// AllFilters lists every category counts are computed for.
var AllFilters = []Filter{
	FilterAll,
	FilterSMS,
	FilterTeam,
	FilterTickets,
	FilterAlerts,
	FilterChats,
	FilterAnnouncements,
	FilterArchived,
}

// ParseFilter validates s. An empty string selects FilterAll.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return FilterAll, nil
	}
	for _, f := range AllFilters {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// FilterCounts maps each category to its unread count.
type FilterCounts map[Filter]int

// Matches is the category membership test. The archived category selects
// dismissed items of any type; every other category excludes them.
func (f Filter) Matches(m UnifiedMessage) bool {
	if f == FilterArchived {
		return m.IsDismissed
	}
	if m.IsDismissed {
		return false
	}
	switch f {
	case FilterAll:
		return true
	case FilterSMS:
		return m.Type == TypeSMS
	case FilterTeam:
		return m.Type == TypeTeamChat || m.Type == TypeAnnouncement
	case FilterTickets:
		return m.Type == TypeTicketChat
	case FilterAlerts:
		return m.Type == TypeNotification
	case FilterChats:
		return m.Type == TypeSMS || m.Type == TypeTeamChat || m.Type == TypeTicketChat
	case FilterAnnouncements:
		return m.Type == TypeAnnouncement
	default:
		return false
	}
}

// CountsUnread is the unread predicate shared by counts and badges.
func CountsUnread(m UnifiedMessage) bool {
	return m.IsUnread && !m.IsDismissed
}
