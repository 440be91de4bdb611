package shell

import (
	"path"
	"sort"
)

// FakeFS is an in-memory directory/file tree. Paths are POSIX-style
// absolute strings; no symlink or permission semantics are modeled.
// Unknown paths yield empty results, never an error: the shell layer owns
// attacker-facing error text.
type FakeFS struct {
	files map[string][]byte
	dirs  map[string]bool
}

// NewFakeFS builds a filesystem seeded with a believable Ubuntu image.
func NewFakeFS(hostname string) *FakeFS {
	fs := &FakeFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}

	for _, d := range []string{"/", "/root", "/home", "/etc", "/var", "/tmp", "/usr", "/bin", "/sbin"} {
		fs.dirs[d] = true
	}

	fs.files["/etc/passwd"] = []byte(
		"root:x:0:0:root:/root:/bin/bash\n" +
			"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n" +
			"bin:x:2:2:bin:/bin:/usr/sbin/nologin\n" +
			"sys:x:3:3:sys:/dev:/usr/sbin/nologin\n" +
			"sync:x:4:65534:sync:/bin:/bin/sync\n" +
			"www-data:x:33:33:www-data:/var/www:/usr/sbin/nologin\n" +
			"nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin\n")

	fs.files["/etc/shadow"] = []byte(
		"root:$6$rounds=656000$YT...:19000:0:99999:7:::\n" +
			"daemon:*:18375:0:99999:7:::\n" +
			"bin:*:18375:0:99999:7:::\n")

	fs.files["/etc/hosts"] = []byte(
		"127.0.0.1\tlocalhost\n" +
			"127.0.1.1\t" + hostname + "\n" +
			"\n" +
			"::1     localhost ip6-localhost ip6-loopback\n" +
			"ff02::1 ip6-allnodes\n" +
			"ff02::2 ip6-allrouters\n")

	fs.files["/etc/hostname"] = []byte(hostname + "\n")

	fs.files["/etc/os-release"] = []byte(
		"PRETTY_NAME=\"Ubuntu 22.04.1 LTS\"\n" +
			"NAME=\"Ubuntu\"\n" +
			"VERSION_ID=\"22.04\"\n" +
			"VERSION=\"22.04.1 LTS (Jammy Jellyfish)\"\n" +
			"VERSION_CODENAME=jammy\n" +
			"ID=ubuntu\n" +
			"ID_LIKE=debian\n")

	fs.files["/root/.bashrc"] = []byte(
		"# .bashrc\n" +
			"\n" +
			"# If not running interactively, don't do anything\n" +
			"case $- in\n" +
			"    *i*) ;;\n" +
			"      *) return;;\n" +
			"esac\n")

	fs.files["/root/.bash_history"] = []byte(
		"ls -la\n" +
			"cd /tmp\n" +
			"wget http://example.com/script.sh\n" +
			"chmod +x script.sh\n" +
			"./script.sh\n")

	return fs
}

// DirExists reports whether path is a known directory.
func (fs *FakeFS) DirExists(p string) bool {
	return fs.dirs[path.Clean(p)]
}

// ListDir returns the immediate children of a directory, deduplicated and
// lexicographically sorted so shell output is reproducible.
func (fs *FakeFS) ListDir(p string) []string {
	p = path.Clean(p)
	seen := make(map[string]bool)

	for d := range fs.dirs {
		if d != p && path.Dir(d) == p {
			seen[path.Base(d)] = true
		}
	}
	for f := range fs.files {
		if path.Dir(f) == p {
			seen[path.Base(f)] = true
		}
	}

	entries := make([]string, 0, len(seen))
	for name := range seen {
		entries = append(entries, name)
	}
	sort.Strings(entries)
	return entries
}

// ReadFile returns file content, or false if the path is not a file.
func (fs *FakeFS) ReadFile(p string) ([]byte, bool) {
	content, ok := fs.files[path.Clean(p)]
	return content, ok
}

// WriteFile stores file content at an absolute path.
func (fs *FakeFS) WriteFile(p string, content []byte) {
	fs.files[path.Clean(p)] = content
}
