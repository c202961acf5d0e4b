//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// Without a system keychain, secrets live in a 0600 JSON file beside the
// data directory, keyed "service/account".
func secretsFilePath() string {
	dir := xdgDir("XDG_DATA_HOME", ".local", "share")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "deepdesk", "secrets.json")
}

func keychainExec(service, account string) ([]byte, error) {
	v, ok, err := newFileBackend(secretsFilePath()).GetString(service + "/" + account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no secret stored for %s/%s", service, account)
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	return newFileBackend(secretsFilePath()).SetString(service+"/"+account, value)
}
