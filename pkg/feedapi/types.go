package feedapi

import "time"

// Article is a news feed entry shown in feed cards.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Token is the metadata of a transferable wallet token.
type Token struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Chain    string `json:"chain"`
	Address  string `json:"address,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

func ArticleKey(a Article) string { return a.ID }
func TokenID(t Token) string      { return t.ID }
func TokenName(t Token) string    { return t.Name }
