package shell

import (
	"sort"
	"strings"
	"testing"
)

func TestListRoot(t *testing.T) {
	fs := NewFakeFS("honeypot")
	entries := fs.ListDir("/")

	for _, want := range []string{"root", "etc", "tmp"} {
		found := false
		for _, e := range entries {
			if e == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %q in root listing %v", want, entries)
		}
	}

	if !sort.StringsAreSorted(entries) {
		t.Errorf("Expected sorted listing, got %v", entries)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e] {
			t.Errorf("Duplicate entry %q in listing", e)
		}
		seen[e] = true
	}
}

func TestListEtc(t *testing.T) {
	fs := NewFakeFS("honeypot")
	entries := fs.ListDir("/etc")

	joined := strings.Join(entries, " ")
	if !strings.Contains(joined, "passwd") || !strings.Contains(joined, "hosts") {
		t.Errorf("Expected passwd and hosts in /etc listing, got %v", entries)
	}
}

func TestDirExists(t *testing.T) {
	fs := NewFakeFS("honeypot")

	if !fs.DirExists("/root") || !fs.DirExists("/etc") {
		t.Error("Expected seeded directories to exist")
	}
	if fs.DirExists("/opt/nonexistent") {
		t.Error("Expected unknown directory to not exist")
	}
	// Paths are cleaned before lookup.
	if !fs.DirExists("/etc/") {
		t.Error("Expected trailing slash to be tolerated")
	}
}

func TestReadPasswd(t *testing.T) {
	fs := NewFakeFS("honeypot")
	content, ok := fs.ReadFile("/etc/passwd")
	if !ok {
		t.Fatal("Expected /etc/passwd to exist")
	}
	if !strings.Contains(string(content), "root:") {
		t.Error("Expected root entry in /etc/passwd")
	}
}

func TestUnknownPaths(t *testing.T) {
	fs := NewFakeFS("honeypot")

	if _, ok := fs.ReadFile("/no/such/file"); ok {
		t.Error("Expected absent content for unknown file")
	}
	if got := fs.ListDir("/no/such/dir"); len(got) != 0 {
		t.Errorf("Expected empty listing for unknown dir, got %v", got)
	}
}

func TestWriteFile(t *testing.T) {
	fs := NewFakeFS("honeypot")
	fs.WriteFile("/tmp/payload.sh", []byte("#!/bin/sh\n"))

	content, ok := fs.ReadFile("/tmp/payload.sh")
	if !ok || string(content) != "#!/bin/sh\n" {
		t.Error("Expected written file to be readable")
	}

	entries := fs.ListDir("/tmp")
	if len(entries) != 1 || entries[0] != "payload.sh" {
		t.Errorf("Expected payload.sh in /tmp listing, got %v", entries)
	}
}

func TestHostnameSeed(t *testing.T) {
	fs := NewFakeFS("web-prod-03")
	content, ok := fs.ReadFile("/etc/hostname")
	if !ok || string(content) != "web-prod-03\n" {
		t.Errorf("Expected configured hostname in /etc/hostname, got %q", content)
	}
}
