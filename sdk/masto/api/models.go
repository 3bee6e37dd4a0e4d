package api

import "time"

// Account represents a Mastodon account.
type Account struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Acct           string    `json:"acct"`
	DisplayName    string    `json:"display_name"`
	Note           string    `json:"note"`
	URL            string    `json:"url"`
	Avatar         string    `json:"avatar"`
	FollowersCount int64     `json:"followers_count"`
	FollowingCount int64     `json:"following_count"`
	StatusesCount  int64     `json:"statuses_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Status represents a single post.
type Status struct {
	ID              string    `json:"id"`
	URI             string    `json:"uri"`
	URL             string    `json:"url"`
	Account         Account   `json:"account"`
	Content         string    `json:"content"`
	SpoilerText     string    `json:"spoiler_text"`
	Visibility      string    `json:"visibility"`
	Sensitive       bool      `json:"sensitive"`
	CreatedAt       time.Time `json:"created_at"`
	RepliesCount    int64     `json:"replies_count"`
	ReblogsCount    int64     `json:"reblogs_count"`
	FavouritesCount int64     `json:"favourites_count"`
	Favourited      bool      `json:"favourited"`
	Reblogged       bool      `json:"reblogged"`
	Reblog          *Status   `json:"reblog,omitempty"`
	InReplyToID     string    `json:"in_reply_to_id,omitempty"`
}

// Relationship represents the relationship to another account.
type Relationship struct {
	ID         string `json:"id"`
	Following  bool   `json:"following"`
	FollowedBy bool   `json:"followed_by"`
	Blocking   bool   `json:"blocking"`
	Muting     bool   `json:"muting"`
	Requested  bool   `json:"requested"`
}

// Notification represents a notification about account activity.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Account   Account   `json:"account"`
	Status    *Status   `json:"status,omitempty"`
}
