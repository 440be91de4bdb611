package shell

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

func (s *Shell) cmdUname(args []string) string {
	switch {
	case contains(args, "-a"):
		return fmt.Sprintf("Linux %s 5.15.0-58-generic #64-Ubuntu SMP Thu Jan 5 11:43:13 UTC 2023 x86_64 x86_64 x86_64 GNU/Linux\n", s.hostname)
	case contains(args, "-r"):
		return "5.15.0-58-generic\n"
	case contains(args, "-s"):
		return "Linux\n"
	case contains(args, "-n"):
		return s.hostname + "\n"
	case contains(args, "-m"):
		return "x86_64\n"
	default:
		return "Linux\n"
	}
}

func (s *Shell) cmdPs() string {
	return "  PID TTY          TIME CMD\n" +
		"    1 pts/0    00:00:00 bash\n" +
		"  234 pts/0    00:00:00 ps\n"
}

func (s *Shell) cmdIfconfig() string {
	return "eth0: flags=4163<UP,BROADCAST,RUNNING,MULTICAST>  mtu 1500\n" +
		"        inet 192.168.1.100  netmask 255.255.255.0  broadcast 192.168.1.255\n" +
		"        inet6 fe80::a00:27ff:fe4e:66a1  prefixlen 64  scopeid 0x20<link>\n" +
		"        ether 08:00:27:4e:66:a1  txqueuelen 1000  (Ethernet)\n" +
		"        RX packets 1234  bytes 567890 (567.8 KB)\n" +
		"        RX errors 0  dropped 0  overruns 0  frame 0\n" +
		"        TX packets 890  bytes 123456 (123.4 KB)\n" +
		"        TX errors 0  dropped 0 overruns 0  carrier 0  collisions 0\n"
}

func (s *Shell) cmdIP(args []string) string {
	if contains(args, "addr") || contains(args, "a") {
		return "1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN group default qlen 1000\n" +
			"    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00\n" +
			"    inet 127.0.0.1/8 scope host lo\n" +
			"       valid_lft forever preferred_lft forever\n" +
			"2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc fq_codel state UP group default qlen 1000\n" +
			"    link/ether 08:00:27:4e:66:a1 brd ff:ff:ff:ff:ff:ff\n" +
			"    inet 192.168.1.100/24 brd 192.168.1.255 scope global eth0\n" +
			"       valid_lft forever preferred_lft forever\n"
	}
	return "Usage: ip [ OPTIONS ] OBJECT { COMMAND | help }\n"
}

func (s *Shell) cmdNetstat() string {
	return "Active Internet connections (servers and established)\n" +
		"Proto Recv-Q Send-Q Local Address           Foreign Address         State\n" +
		"tcp        0      0 0.0.0.0:22              0.0.0.0:*               LISTEN\n" +
		"tcp        0      0 192.168.1.100:22        192.168.1.50:54321      ESTABLISHED\n"
}

func (s *Shell) cmdHistory() string {
	return "    1  uname -a\n" +
		"    2  whoami\n" +
		"    3  ls -la\n" +
		"    4  cat /etc/passwd\n" +
		"    5  history\n"
}

// cmdWget fetches the URL through the fetch collaborator, captures the
// bytes in the content store, and renders a wget transcript. Fetch failure
// produces the standard wget error lines rather than tearing anything down.
func (s *Shell) cmdWget(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "wget: missing URL\nUsage: wget [OPTION]... [URL]...\n"
	}

	rawURL := args[len(args)-1]
	host := hostOf(rawURL)
	filename := filenameOf(rawURL)
	stamp := time.Now().Format("2006-01-02 15:04:05")

	head := fmt.Sprintf("--%s--  %s\nResolving %s (%s)... ", stamp, rawURL, host, host)

	body, err := s.download(ctx, rawURL)
	if err != nil {
		return head + "failed: Name or service not known.\n" +
			fmt.Sprintf("wget: unable to resolve host address '%s'\n", host)
	}

	// Make the download visible to later ls/cat in this session.
	s.fs.WriteFile(path.Join(s.cwd, filename), body)

	n := len(body)
	return head + "connected.\n" +
		fmt.Sprintf("Connecting to %s|%s|:80... connected.\n", host, host) +
		"HTTP request sent, awaiting response... 200 OK\n" +
		fmt.Sprintf("Length: %d [application/octet-stream]\n", n) +
		fmt.Sprintf("Saving to: '%s'\n\n", filename) +
		fmt.Sprintf("%-20s100%%[===================>]  %s  --.-KB/s    in 0s\n\n", filename, sizeStr(n)) +
		fmt.Sprintf("%s (12.1 MB/s) - '%s' saved [%d/%d]\n", stamp, filename, n, n)
}

// cmdCurl behaves like curl without -O: the body goes to stdout. The bytes
// are still captured. Failures use curl's terse stderr format.
func (s *Shell) cmdCurl(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "curl: try 'curl --help' or 'curl --manual' for more information\n"
	}

	rawURL := args[len(args)-1]

	body, err := s.download(ctx, rawURL)
	if err != nil {
		return fmt.Sprintf("curl: (6) Could not resolve host: %s\n", hostOf(rawURL))
	}

	out := string(body)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

// download runs the fetch/store/record pipeline shared by wget and curl.
func (s *Shell) download(ctx context.Context, rawURL string) ([]byte, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured")
	}
	body, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	storePath := ""
	digest := ""
	if s.files != nil {
		if digest, err = s.files.Store(body); err == nil {
			storePath = s.files.PathFor(digest)
		}
	}
	if s.recorder != nil && digest != "" {
		s.recorder.RecordDownload(rawURL, digest, len(body), storePath)
	}
	return body, nil
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return rawURL
}

func filenameOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}
	return "index.html"
}

func sizeStr(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.2fM", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.2fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%d", n)
	}
}
