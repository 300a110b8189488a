package scraping

// ScrapeChatsArgs is the payload of a scraping.scrape_chats unit of work.
type ScrapeChatsArgs struct {
	SessionID string  `json:"session_id"`
	ChatIDs   []int64 `json:"chat_ids"`
}

// Valid reports whether the payload identifies work to do.
func (a ScrapeChatsArgs) Valid() bool {
	return a.SessionID != "" && len(a.ChatIDs) > 0
}

// ScrapeMembersArgs is the payload of a scraping.scrape_chat_members unit
// of work. The unit walks every active session, so it carries no arguments.
type ScrapeMembersArgs struct{}
