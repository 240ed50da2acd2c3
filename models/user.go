package models

type Group string

const (
	GroupUser  Group = "USER"
	GroupAdmin Group = "ADMIN"
)

// Profile is the per-user row that carries the role and the device push token.
type Profile struct {
	ID            string  `db:"id" json:"id"`
	Group         Group   `db:"group" json:"group"`
	ExpoPushToken *string `db:"expo_push_token" json:"expo_push_token"`
}

func (p Profile) IsAdmin() bool {
	return p.Group == GroupAdmin
}
