package policy

import "regexp"

// deniedExecutables lists executable name stems that are never allowed to
// launch, regardless of arguments. Stems are compared after lower-casing and
// stripping the file extension, so "REGEDIT.EXE" and "regedit" both match.
var deniedExecutables = map[string]struct{}{
	// Registry editors
	"regedit":  {},
	"regedt32": {},
	// Disk partitioning and formatting
	"diskpart": {},
	"format":   {},
	"fdisk":    {},
	// Shadow copy and backup destruction
	"vssadmin": {},
	"wbadmin":  {},
	// Boot configuration
	"bcdedit": {},
	"bootrec": {},
	"bootcfg": {},
	// ACL and ownership seizure
	"icacls":  {},
	"cacls":   {},
	"takeown": {},
	// Task scheduling
	"schtasks": {},
	"at":       {},
}

// shellHosts lists executable name stems treated as shells or script hosts.
// Their argument strings get the extra screening pass, since destructive
// operations arrive as arguments rather than as the executable itself.
var shellHosts = map[string]struct{}{
	"cmd":        {},
	"powershell": {},
	"pwsh":       {},
	"wscript":    {},
	"cscript":    {},
	"mshta":      {},
	"sh":         {},
	"bash":       {},
	"zsh":        {},
	"dash":       {},
	"ksh":        {},
}

// signature pairs a compiled destructive-command pattern with a stable label
// used in denial reasons.
type signature struct {
	label   string
	pattern *regexp.Regexp
}

// destructiveSignatures are matched against the lower-cased concatenation of
// the executable path and the argument string.
var destructiveSignatures = []signature{
	{"drive format", regexp.MustCompile(`\bformat\s+[a-z]:`)},
	{"registry deletion", regexp.MustCompile(`\breg(\.exe)?\s+delete\b`)},
	{"registry machine hive write", regexp.MustCompile(`\breg(\.exe)?\s+add\s+hklm`)},
	{"forced delete on a drive", regexp.MustCompile(`\b(del|erase)\s+(/[a-z]+\s+)+[a-z]:\\`)},
	{"recursive directory removal on a drive", regexp.MustCompile(`\b(rd|rmdir)\s+/s\b[^|&]*\s[a-z]:\\?`)},
	{"recursive filesystem removal", regexp.MustCompile(`\brm\s+-(rf|fr)[a-z]*\s+(/|~)`)},
	{"shadow copy deletion", regexp.MustCompile(`\bvssadmin(\.exe)?\s+delete\s+shadows`)},
	{"shadow copy deletion", regexp.MustCompile(`\bwmic(\.exe)?\s+shadowcopy\s+delete`)},
	{"backup catalog deletion", regexp.MustCompile(`\bwbadmin(\.exe)?\s+delete\s+catalog`)},
	{"boot configuration edit", regexp.MustCompile(`\bbcdedit(\.exe)?\s+/(set|deletevalue|import)`)},
	{"boot record rewrite", regexp.MustCompile(`\bbootrec(\.exe)?\s+/fix(mbr|boot)`)},
	{"raw device write", regexp.MustCompile(`\bdd\s+if=`)},
	{"filesystem creation", regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\s`)},
	{"encoded command payload", regexp.MustCompile(`-encodedcommand\b|\s-enc\s`)},
	{"encoded command payload", regexp.MustCompile(`frombase64string`)},
	{"dynamic expression invocation", regexp.MustCompile(`invoke-expression|\biex\s*\(`)},
	{"world-writable permission grant", regexp.MustCompile(`\b(icacls|cacls)\b.*\b(/grant\s+everyone|/g\s+everyone)`)},
	{"ownership seizure on a drive", regexp.MustCompile(`\btakeown(\.exe)?\s+/f\s+[a-z]:\\`)},
	{"world-writable permission grant", regexp.MustCompile(`\bchmod\s+(-r\s+)?777\s+/`)},
	{"privileged account creation", regexp.MustCompile(`\bnet\s+user\b.*\s/add\b`)},
	{"administrators group change", regexp.MustCompile(`\bnet\s+localgroup\s+administrators\b`)},
	{"scheduled task creation", regexp.MustCompile(`\bschtasks(\.exe)?\s+/create`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{`)},
}

// shellRestricted fragments are screened against the argument string alone
// when the executable is a shell or script host. Matching is plain substring
// search over the lower-cased arguments.
var shellRestricted = []string{
	// Delete operations
	"del ",
	"erase ",
	"rd /s",
	"rmdir /s",
	"rm -rf",
	"rm -fr",
	// Registry operations
	"reg ",
	"regedit",
	// User management
	"net user",
	"net localgroup",
	"useradd",
	"userdel",
	// ACL changes
	"icacls",
	"cacls",
	"takeown",
	// Low-level disk operations
	"diskpart",
	"format ",
	"fdisk",
	"mkfs",
	"dd if=",
}
