// Package shell emulates a stateful Linux command shell over an in-memory
// filesystem. Nothing here ever touches the real OS.
package shell

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/avetisov/honeyshell/internal/capture"
	"github.com/avetisov/honeyshell/internal/fetch"
	"github.com/avetisov/honeyshell/internal/filestore"
)

// Shell holds per-session state: cwd, environment, and the session's own
// filesystem instance. It is exclusively owned by one session controller
// and never shared.
type Shell struct {
	fs       *FakeFS
	cwd      string
	env      map[string]string
	hostname string

	fetcher  fetch.Fetcher
	files    *filestore.Store
	recorder *capture.Recorder
}

// Options carries the collaborators a shell needs for download capture.
// Fetcher, Files and Recorder may be nil; wget/curl then degrade to their
// failure transcripts.
type Options struct {
	Hostname string
	Fetcher  fetch.Fetcher
	Files    *filestore.Store
	Recorder *capture.Recorder
}

// New creates a shell with a freshly seeded filesystem, cwd /root, and a
// root user environment.
func New(opts Options) *Shell {
	hostname := opts.Hostname
	if hostname == "" {
		hostname = "honeypot"
	}
	return &Shell{
		fs:       NewFakeFS(hostname),
		cwd:      "/root",
		hostname: hostname,
		env: map[string]string{
			"USER":     "root",
			"HOME":     "/root",
			"PATH":     "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"SHELL":    "/bin/bash",
			"HOSTNAME": hostname,
		},
		fetcher:  opts.Fetcher,
		files:    opts.Files,
		recorder: opts.Recorder,
	}
}

// Cwd returns the current working directory.
func (s *Shell) Cwd() string {
	return s.cwd
}

// IsExit reports whether a command line terminates the session.
func IsExit(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	return fields[0] == "exit" || fields[0] == "logout"
}

// Execute runs one command line and returns the text the attacker sees.
// Parsing is whitespace splitting only; quoting and escaping are not
// supported. Unknown names produce the bash "command not found" line.
func (s *Shell) Execute(ctx context.Context, line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return ""
	}

	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "pwd":
		return s.cwd + "\n"
	case "whoami":
		return s.cmdWhoami()
	case "id":
		return "uid=0(root) gid=0(root) groups=0(root)\n"
	case "uname":
		return s.cmdUname(args)
	case "ls":
		return s.cmdLs(args)
	case "cd":
		return s.cmdCd(args)
	case "cat":
		return s.cmdCat(args)
	case "echo":
		return s.cmdEcho(args)
	case "env":
		return s.cmdEnv()
	case "ps":
		return s.cmdPs()
	case "ifconfig":
		return s.cmdIfconfig()
	case "ip":
		return s.cmdIP(args)
	case "netstat":
		return s.cmdNetstat()
	case "wget":
		return s.cmdWget(ctx, args)
	case "curl":
		return s.cmdCurl(ctx, args)
	case "chmod", "chown":
		return s.cmdSilent(cmd, args, 2, "missing operand")
	case "rm":
		return s.cmdSilent(cmd, args, 1, "missing operand")
	case "mkdir":
		return s.cmdSilent(cmd, args, 1, "missing operand")
	case "touch":
		return s.cmdSilent(cmd, args, 1, "missing file operand")
	case "cp", "mv":
		return s.cmdSilent(cmd, args, 2, "missing destination file operand")
	case "history":
		return s.cmdHistory()
	case "exit", "logout":
		return "logout\n"
	default:
		return cmd + ": command not found\n"
	}
}

// resolve turns a command argument into a cleaned absolute path.
func (s *Shell) resolve(arg string) string {
	if path.IsAbs(arg) {
		return path.Clean(arg)
	}
	return path.Clean(path.Join(s.cwd, arg))
}

func (s *Shell) cmdWhoami() string {
	user := s.env["USER"]
	if user == "" {
		user = "root"
	}
	return user + "\n"
}

func (s *Shell) cmdCd(args []string) string {
	if len(args) == 0 {
		s.cwd = s.env["HOME"]
		return ""
	}
	target := s.resolve(args[0])
	if !s.fs.DirExists(target) {
		return "cd: " + args[0] + ": No such file or directory\n"
	}
	s.cwd = target
	return ""
}

func (s *Shell) cmdCat(args []string) string {
	if len(args) == 0 {
		return "cat: missing operand\n"
	}
	content, ok := s.fs.ReadFile(s.resolve(args[0]))
	if !ok {
		return "cat: " + args[0] + ": No such file or directory\n"
	}
	out := string(content)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func (s *Shell) cmdEcho(args []string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if strings.HasPrefix(arg, "$") {
			b.WriteString(s.env[arg[1:]])
		} else {
			b.WriteString(arg)
		}
	}
	b.WriteByte('\n')
	return b.String()
}

func (s *Shell) cmdEnv() string {
	keys := make([]string, 0, len(s.env))
	for k := range s.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.env[k])
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *Shell) cmdLs(args []string) string {
	showHidden := hasFlag(args, 'a')
	longFormat := hasFlag(args, 'l')

	entries := s.fs.ListDir(s.cwd)

	if longFormat {
		var b strings.Builder
		for _, entry := range entries {
			if !showHidden && strings.HasPrefix(entry, ".") {
				continue
			}
			b.WriteString("drwxr-xr-x 2 root root 4096 Nov  9 10:30 ")
			b.WriteString(entry)
			b.WriteByte('\n')
		}
		return b.String()
	}

	filtered := entries[:0:0]
	for _, entry := range entries {
		if showHidden || !strings.HasPrefix(entry, ".") {
			filtered = append(filtered, entry)
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, "  ") + "\n"
}

// hasFlag matches single-letter flags in combined form (-la, -al, ...).
func hasFlag(args []string, flag byte) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && strings.IndexByte(arg, flag) > 0 {
			return true
		}
	}
	return false
}

// cmdSilent covers the mutating built-ins. They validate argument arity
// and then simulate success without touching backing state; they exist so
// attacker scripts keep running, not to provide a faithful filesystem.
func (s *Shell) cmdSilent(cmd string, args []string, minArgs int, errText string) string {
	if len(args) < minArgs {
		return cmd + ": " + errText + "\n"
	}
	return ""
}
