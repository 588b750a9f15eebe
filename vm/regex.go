package vm

import (
	"regexp"
	"strings"
)

// compileRegex builds a Regex value from a pattern/flags pair carried
// in the constant pool. "g" (global match) has no compile-time effect
// in Go's RE2 engine — it only changes whether a caller uses FindString
// or FindAllString — so it's retained on Flags for syscalls to read,
// not translated into the compiled pattern.
func compileRegex(pattern, flags string) (*Regex, error) {
	prefix := ""
	if strings.ContainsRune(flags, 'i') {
		prefix += "i"
	}
	if strings.ContainsRune(flags, 'M') {
		prefix += "m"
	}
	if strings.ContainsRune(flags, 's') {
		prefix += "s"
	}
	wire := pattern
	if prefix != "" {
		wire = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(wire)
	if err != nil {
		return nil, loadErrorf("invalid regex /%s/%s: %v", pattern, flags, err)
	}
	return &Regex{Pattern: pattern, Flags: flags, Re: re}, nil
}
