package migrations

import (
	"testing"
	"testing/fstest"
)

func TestVersion(t *testing.T) {
	tests := map[string]string{
		"sql/001_chat_messages.sql": "001",
		"002_indexes.sql":           "002",
		"plain.sql":                 "plain.sql",
	}
	for name, want := range tests {
		if got := Version(name); got != want {
			t.Errorf("Version(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFilesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/002_b.sql":   {Data: []byte("SELECT 2;")},
		"sql/001_a.sql":   {Data: []byte("SELECT 1;")},
		"sql/README.md":   {Data: []byte("notes")},
		"other/003_c.sql": {Data: []byte("SELECT 3;")},
	}

	names, err := Files(fsys)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(names) != 2 || names[0] != "sql/001_a.sql" || names[1] != "sql/002_b.sql" {
		t.Fatalf("names = %v", names)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := Files(embedded)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(names) == 0 || Version(names[0]) != "001" {
		t.Fatalf("embedded migrations = %v", names)
	}
}
