package ingest

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init.
var (
	reDatetime   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	reLongNum    = regexp.MustCompile(`\b\d{4,}\b`)
	reColumn     = regexp.MustCompile(`(:\d+):\d+`)
	reFrame      = regexp.MustCompile(`[\w.\-/\\]+\.\w+:\d+`)
	reParenFrame = regexp.MustCompile(`([\w.\-/\\]+\.\w+)\((\d+)\)`)
	rePyFrame    = regexp.MustCompile(`^File "([^"]+)", line (\d+)(?:, in (\S+))?`)
	reNetFrame   = regexp.MustCompile(`^(?:at\s+)?(.*?)\s+in\s+(\S.*):line\s+(\d+)$`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

const (
	maxMessageBytes  = 2000
	maxLocationBytes = 500
)

// Signature computes the dedup key for an error: a SHA-256 over the error type
// and its normalized location. When no location can be derived from the
// location or stack, the normalized message stands in for it.
func Signature(errorType, location, stack, message string) string {
	key := NormalizeLocation(location)
	if key == "" {
		key = NormalizeLocation(LocationFromStack(stack))
	}
	if key == "" {
		key = "message:" + NormalizeMessage(message)
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(errorType)) + "|" + key))
	return fmt.Sprintf("%x", sum)
}

// LocationFromStack returns the innermost frame of a stack trace that names
// a file and line, or "" when no line looks like a frame. Header lines such as
// "Traceback (most recent call last):" are never returned.
//
// Recognized shapes: "file.ext:N" (JavaScript, Go, Java, Ruby), PHP
// "file.php(N)", .NET "... in file.cs:line N" and Python
// `File "file.py", line N`. Python prints the innermost call last.
func LocationFromStack(stack string) string {
	var pyFrame string
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := rePyFrame.FindStringSubmatch(line); m != nil {
			pyFrame = m[1] + ":" + m[2]
			if m[3] != "" {
				pyFrame += " in " + m[3]
			}
			continue
		}
		if pyFrame != "" {
			// Source excerpts and the exception line of a Python traceback.
			continue
		}
		if m := reNetFrame.FindStringSubmatch(line); m != nil {
			return m[1] + " in " + m[2] + ":" + m[3]
		}
		if reFrame.MatchString(line) {
			return strings.TrimPrefix(line, "at ")
		}
		if m := reParenFrame.FindStringSubmatch(line); m != nil {
			return m[1] + ":" + m[2]
		}
	}
	return pyFrame
}

// NormalizeLocation strips the volatile parts of a stack frame: timestamps,
// addresses, ids, column numbers and spacing. Line numbers are kept however
// long they are.
func NormalizeLocation(loc string) string {
	loc = reDatetime.ReplaceAllString(loc, "")
	loc = reHexAddr.ReplaceAllString(loc, "0xADDR")
	loc = reUUID.ReplaceAllString(loc, "UUID")
	loc = reColumn.ReplaceAllString(loc, "$1")
	loc = reBracketNum.ReplaceAllString(loc, "[N]")
	loc = reWhitespace.ReplaceAllString(loc, " ")
	loc = strings.ToLower(loc)
	loc = strings.TrimSpace(loc)
	return truncateString(loc, maxLocationBytes)
}

// NormalizeMessage applies all normalization rules to an error message.
func NormalizeMessage(msg string) string {
	msg = reDatetime.ReplaceAllString(msg, "")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reBracketNum.ReplaceAllString(msg, "[N]")
	msg = reParenNum.ReplaceAllString(msg, "(N)")
	msg = reLongNum.ReplaceAllString(msg, "N")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	msg = truncateString(msg, 500)
	return msg
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
