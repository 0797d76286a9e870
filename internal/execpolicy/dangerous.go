package execpolicy

import "strings"

// dangerousCommands adapts the teacher's internal/shell.BannedCommands
// denylist into the policy engine's "might be dangerous" fallback: when no
// authored rule matches a command, this heuristic decides whether the
// command should still be allowed unattended or needs a prompt.
var dangerousCommands = map[string]struct{}{
	"bash": {}, "sh": {}, "zsh": {}, "fish": {}, "csh": {}, "tcsh": {}, "ksh": {}, "dash": {},
	"env": {}, "nohup": {}, "xargs": {}, "strace": {}, "ltrace": {},
	"python": {}, "python3": {}, "python2": {}, "node": {}, "ruby": {}, "perl": {},
	"php": {}, "lua": {}, "tclsh": {}, "wish": {},
	"aria2c": {}, "axel": {}, "curl": {}, "curlie": {}, "http-prompt": {}, "httpie": {},
	"links": {}, "lynx": {}, "nc": {}, "ncat": {}, "scp": {}, "sftp": {}, "ssh": {},
	"telnet": {}, "w3m": {}, "wget": {}, "xh": {},
	"doas": {}, "su": {}, "sudo": {},
	"apk": {}, "apt": {}, "apt-cache": {}, "apt-get": {}, "dnf": {}, "dpkg": {}, "emerge": {},
	"home-manager": {}, "makepkg": {}, "opkg": {}, "pacman": {}, "paru": {}, "pkg": {},
	"pkg_add": {}, "pkg_delete": {}, "portage": {}, "rpm": {}, "yay": {}, "yum": {}, "zypper": {},
	"at": {}, "batch": {}, "chkconfig": {}, "crontab": {}, "fdisk": {}, "mkfs": {}, "mount": {},
	"parted": {}, "service": {}, "systemctl": {}, "umount": {},
	"firewall-cmd": {}, "ifconfig": {}, "ip": {}, "iptables": {}, "netstat": {}, "pfctl": {},
	"route": {}, "ufw": {},
	"rm": {}, "dd": {}, "shred": {}, "mkfifo": {}, "chmod": {}, "chown": {},
}

// dangerousArgPatterns are subcommand/flag combinations that make an
// otherwise-ordinary command dangerous, mirroring the teacher's
// ArgumentsBlocker rules.
var dangerousArgPatterns = []struct {
	cmd     string
	subArgs []string
	flags   []string
}{
	{cmd: "npm", subArgs: []string{"install"}, flags: []string{"-g"}},
	{cmd: "npm", subArgs: []string{"install"}, flags: []string{"--global"}},
	{cmd: "pnpm", subArgs: []string{"add"}, flags: []string{"-g"}},
	{cmd: "pnpm", subArgs: []string{"add"}, flags: []string{"--global"}},
	{cmd: "yarn", subArgs: []string{"global"}},
	{cmd: "pip", subArgs: []string{"install"}},
	{cmd: "pip3", subArgs: []string{"install"}},
	{cmd: "gem", subArgs: []string{"install"}},
	{cmd: "cargo", subArgs: []string{"install"}},
	{cmd: "go", subArgs: []string{"install"}},
	{cmd: "go", subArgs: []string{"test"}, flags: []string{"-exec"}},
}

// CommandMightBeDangerous reports whether command (argv with argv[0]
// already canonicalized to a basename) should prompt when no authored
// policy rule matched it.
func CommandMightBeDangerous(command []string) bool {
	if len(command) == 0 {
		return false
	}
	if _, banned := dangerousCommands[command[0]]; banned {
		return true
	}
	for _, pat := range dangerousArgPatterns {
		if command[0] != pat.cmd {
			continue
		}
		positional, flags := splitArgsFlags(command[1:])
		if !hasPrefix(positional, pat.subArgs) {
			continue
		}
		if len(pat.flags) > 0 && !containsAll(flags, pat.flags) {
			continue
		}
		return true
	}
	return false
}

func splitArgsFlags(args []string) (positional, flags []string) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
		} else {
			positional = append(positional, a)
		}
	}
	return
}

func hasPrefix(haystack, needle []string) bool {
	if len(haystack) < len(needle) {
		return false
	}
	for i, n := range needle {
		if haystack[i] != n {
			return false
		}
	}
	return true
}

func containsAll(actual, required []string) bool {
	have := make(map[string]struct{}, len(actual))
	for _, f := range actual {
		have[f] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}
