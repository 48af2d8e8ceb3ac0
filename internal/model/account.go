package model

// Account holds the login credentials for one TTUEX account.
// The name is the unique key used for session files and reports.
type Account struct {
	AccountName string `json:"account_name"`
	Username    string `json:"username"`
	Password    Secret `json:"password"`
}

// Secret is a string that never leaks through fmt or JSON marshalling.
type Secret string

func (s Secret) String() string { return "***" }

func (s Secret) GoString() string { return "***" }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"***"`), nil }

func (s *Secret) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		*s = Secret(b[1 : len(b)-1])
		return nil
	}
	*s = Secret(b)
	return nil
}

// Reveal returns the raw secret value for use at the login form.
func (s Secret) Reveal() string { return string(s) }
