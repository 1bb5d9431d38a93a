package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	content := `[
		{"name": "Alice", "email": "alice@example.com", "password": "a"},
		{"name": "Bob", "email": "bob@example.com", "password": "b"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	users, err := readUsers(path)
	if err != nil {
		t.Fatalf("cannot read users: %s", err)
	}
	if len(users) != 2 {
		t.Fatalf("want 2 users, got %d", len(users))
	}
	if users[1].Name != "Bob" || users[1].Email != "bob@example.com" || users[1].Password != "b" {
		t.Fatalf("unexpected user: %+v", users[1])
	}
}

func TestReadUsersRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte(`[{"name": "A", "admin": true}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readUsers(path); err == nil {
		t.Fatal("want error")
	}
}
