package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
)

// LoadAccounts reads the accounts JSON file. When the file is missing it
// falls back to a single account built from TTUEX_USERNAME/TTUEX_PASSWORD,
// loading .env first if one exists. Returns an empty slice, not an error,
// when neither source yields credentials.
func LoadAccounts(path string) ([]model.Account, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read accounts file: %w", err)
		}
		return accountsFromEnv(), nil
	}
	var accounts []model.Account
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := accounts[:0]
	for i, a := range accounts {
		if a.Username == "" || a.Password.Reveal() == "" {
			continue
		}
		if a.AccountName == "" {
			a.AccountName = fmt.Sprintf("account_%d", i+1)
		}
		out = append(out, a)
	}
	return out, nil
}

func accountsFromEnv() []model.Account {
	// Best effort: a missing .env just means the vars come from the shell.
	_ = godotenv.Load()
	user := os.Getenv("TTUEX_USERNAME")
	pass := os.Getenv("TTUEX_PASSWORD")
	if user == "" || pass == "" {
		return nil
	}
	return []model.Account{{
		AccountName: "default",
		Username:    user,
		Password:    model.Secret(pass),
	}}
}
