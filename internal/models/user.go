package models

// User is the replicated read-model row for a user. The user service owns
// the record; this service only reads display fields for hydration.
type User struct {
	ID        int    `db:"id" json:"id"`
	FullName  string `db:"full_name" json:"full_name"`
	AvatarURL string `db:"avatar_url" json:"avatar_url,omitempty"`
}

// UserSummary is the display projection embedded in hydrated views.
type UserSummary struct {
	ID        int    `db:"id" json:"id"`
	FullName  string `db:"full_name" json:"full_name"`
	AvatarURL string `db:"avatar_url" json:"avatar_url,omitempty"`
}
