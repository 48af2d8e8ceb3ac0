package model

import "time"

// StorageState is the serialized browser state for one account: cookies
// plus the site's localStorage. Restoring it skips the login form.
type StorageState struct {
	Cookies      []Cookie          `json:"cookies"`
	LocalStorage map[string]string `json:"localStorage,omitempty"`
	SavedAt      time.Time         `json:"savedAt"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s StorageState) Empty() bool {
	return len(s.Cookies) == 0 && len(s.LocalStorage) == 0
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}
