package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file and sets environment variables.
// Missing files are ignored and variables already present in the
// environment are left untouched.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Secret returns the trimmed value of an environment variable.
func Secret(key string) string {
	v, _ := os.LookupEnv(key)
	return trimQuotes(strings.TrimSpace(v))
}

func trimQuotes(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
