package packages

import (
	"regexp"
	"strings"
)

// FailureClass groups install failures by how the installer reacts.
type FailureClass int

const (
	ClassNone FailureClass = iota
	ClassTimeout
	ClassDNS
	ClassOther
)

func (c FailureClass) String() string {
	switch c {
	case ClassNone:
		return "success"
	case ClassTimeout:
		return "timeout"
	case ClassDNS:
		return "dns"
	default:
		return "other"
	}
}

var (
	timeoutPatterns = regexp.MustCompile(`(?i)(timed out|timeout|connection timed|operation too slow|` +
		`could not connect|connection refused|network is unreachable|no route to host)`)
	dnsPatterns = regexp.MustCompile(`(?i)(temporary failure (in name resolution|resolving)|could not resolve|` +
		`name or service not known|no address associated|dns lookup|bad address)`)
)

// Classify inspects package manager output. DNS patterns are checked first
// because resolvers often report them alongside a timeout.
func Classify(output string, failed bool) FailureClass {
	if !failed {
		return ClassNone
	}
	out := strings.TrimSpace(output)
	switch {
	case dnsPatterns.MatchString(out):
		return ClassDNS
	case timeoutPatterns.MatchString(out):
		return ClassTimeout
	default:
		return ClassOther
	}
}
