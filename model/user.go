package model

import "gorm.io/gorm"

// User is the external identity as seen by the messenger core.
// Credentials live with the identity service; only public profile fields are kept here.
type User struct {
	gorm.Model
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}
