package ingest

import (
	"fmt"
	"strings"
	"testing"
)

// --- NormalizeMessage tests ---

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "strips leading datetime with T separator",
			input:    "2024-02-17T01:47:32.123Z connection refused",
			expected: "connection refused",
		},
		{
			name:     "strips datetime in the middle of a message",
			input:    "query at 2024-02-17 01:47:32 timed out",
			expected: "query at timed out",
		},
		{
			name:     "strips datetime with timezone offset",
			input:    "2024-02-17T01:47:32+05:30 connection refused",
			expected: "connection refused",
		},
		{
			name:     "replaces hex addresses",
			input:    "segfault at 0x7fff5fc00000 in main",
			expected: "segfault at 0xaddr in main",
		},
		{
			name:     "replaces UUIDs",
			input:    "request 550e8400-e29b-41d4-a716-446655440000 failed",
			expected: "request uuid failed",
		},
		{
			name:     "replaces bracketed numbers",
			input:    "goroutine [42] panic",
			expected: "goroutine [n] panic",
		},
		{
			name:     "replaces parenthesized numbers",
			input:    "error code (500) at line (42)",
			expected: "error code (n) at line (n)",
		},
		{
			name:     "replaces long numbers",
			input:    "order 123456 not found",
			expected: "order n not found",
		},
		{
			name:     "keeps short numbers",
			input:    "retry 3 of 5",
			expected: "retry 3 of 5",
		},
		{
			name:     "collapses whitespace and lowercases",
			input:    "Connection   REFUSED",
			expected: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMessage(tt.input)
			if got != tt.expected {
				t.Errorf("\nexpected: %q\ngot:      %q", tt.expected, got)
			}
		})
	}
}

func TestNormalizeMessage_TruncatesTo500(t *testing.T) {
	got := NormalizeMessage(strings.Repeat("a", 600))
	if len(got) > 500 {
		t.Errorf("expected max 500 chars, got %d", len(got))
	}
}

// --- NormalizeLocation tests ---

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "drops column number",
			input:    "/app/src/handler.js:42:17",
			expected: "/app/src/handler.js:42",
		},
		{
			name:     "keeps line without column",
			input:    "app/models/user.rb:12",
			expected: "app/models/user.rb:12",
		},
		{
			name:     "replaces program counter offset",
			input:    "/app/main.go:10 +0x1d",
			expected: "/app/main.go:10 +0xaddr",
		},
		{
			name:     "trims and lowercases",
			input:    "  App/Handler.py:7  ",
			expected: "app/handler.py:7",
		},
		{
			name:     "strips timestamps",
			input:    "2024-02-17T01:00:00Z worker.py:12",
			expected: "worker.py:12",
		},
		{
			name:     "keeps long line numbers",
			input:    "/app/src/bundle.js:10423:5",
			expected: "/app/src/bundle.js:10423",
		},
		{
			name:     "empty stays empty",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeLocation(tt.input)
			if got != tt.expected {
				t.Errorf("\nexpected: %q\ngot:      %q", tt.expected, got)
			}
		})
	}
}

// --- LocationFromStack tests ---

func TestLocationFromStack(t *testing.T) {
	tests := []struct {
		name     string
		stack    string
		expected string
	}{
		{
			name:     "javascript stack skips the message line",
			stack:    "TypeError: x is undefined\n    at handle (/app/src/handler.js:42:17)\n    at next (/app/node_modules/router.js:5:3)",
			expected: "handle (/app/src/handler.js:42:17)",
		},
		{
			name:     "go stack picks the first file frame",
			stack:    "goroutine 1 [running]:\nmain.main()\n\t/app/main.go:10 +0x1d",
			expected: "/app/main.go:10 +0x1d",
		},
		{
			name: "python traceback picks the innermost frame",
			stack: "Traceback (most recent call last):\n" +
				"  File \"/app/main.py\", line 10, in <module>\n" +
				"    run()\n" +
				"  File \"/app/billing.py\", line 42, in charge\n" +
				"    return total / count\n" +
				"ZeroDivisionError: division by zero",
			expected: "/app/billing.py:42 in charge",
		},
		{
			name:     "dotnet frame with line marker",
			stack:    "System.NullReferenceException: Object reference not set\n   at Shop.Cart.Total() in C:\\src\\Shop\\Cart.cs:line 57\n   at Shop.Api.Get() in C:\\src\\Shop\\Api.cs:line 12",
			expected: "Shop.Cart.Total() in C:\\src\\Shop\\Cart.cs:57",
		},
		{
			name:     "java frame",
			stack:    "java.lang.IllegalStateException: closed\n\tat com.shop.Cart.total(Cart.java:88)\n\tat com.shop.Api.get(Api.java:12)",
			expected: "com.shop.Cart.total(Cart.java:88)",
		},
		{
			name:     "ruby frame",
			stack:    "app/models/user.rb:12:in 'save'\napp/controllers/users_controller.rb:7:in 'create'",
			expected: "app/models/user.rb:12:in 'save'",
		},
		{
			name:     "php frame",
			stack:    "#0 /var/www/app/Cart.php(31): Cart->total()\n#1 {main}",
			expected: "/var/www/app/Cart.php:31",
		},
		{
			name:     "no frames yields nothing",
			stack:    "\n\nsomething broke\nand again",
			expected: "",
		},
		{
			name:     "header only traceback yields nothing",
			stack:    "Traceback (most recent call last):",
			expected: "",
		},
		{
			name:     "empty stack",
			stack:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LocationFromStack(tt.stack)
			if got != tt.expected {
				t.Errorf("\nexpected: %q\ngot:      %q", tt.expected, got)
			}
		})
	}
}

// --- Signature tests ---

func TestSignature_IgnoresMessageWhenLocationKnown(t *testing.T) {
	s1 := Signature("TypeError", "/app/src/handler.js:42", "", "x is undefined")
	s2 := Signature("TypeError", "/app/src/handler.js:42", "", "y is undefined")
	if s1 != s2 {
		t.Errorf("same type and location should share a signature:\n  %s\n  %s", s1, s2)
	}
}

func TestSignature_IgnoresColumn(t *testing.T) {
	s1 := Signature("TypeError", "/app/src/handler.js:42:17", "", "boom")
	s2 := Signature("TypeError", "/app/src/handler.js:42:3", "", "boom")
	if s1 != s2 {
		t.Errorf("column numbers should not affect the signature:\n  %s\n  %s", s1, s2)
	}
}

func TestSignature_UsesStackWhenNoLocation(t *testing.T) {
	stack := "TypeError: x is undefined\n    at handle (/app/src/handler.js:42:17)"
	s1 := Signature("TypeError", "", stack, "x is undefined")
	s2 := Signature("TypeError", "handle (/app/src/handler.js:42:9)", "", "other")
	if s1 != s2 {
		t.Errorf("stack-derived location should match explicit location:\n  %s\n  %s", s1, s2)
	}
}

func TestSignature_MessageFallbackIgnoresVolatileFields(t *testing.T) {
	s1 := Signature("Timeout", "", "", "2024-02-17T01:00:00Z request 550e8400-e29b-41d4-a716-446655440000 timed out")
	s2 := Signature("Timeout", "", "", "2024-02-17T02:30:00Z request 123e4567-e89b-12d3-a456-426614174000 timed out")
	if s1 != s2 {
		t.Errorf("timestamps and request ids should not affect the signature:\n  %s\n  %s", s1, s2)
	}
}

func TestSignature_PythonTracebacksKeepTheirLocation(t *testing.T) {
	traceback := func(file string, line int) string {
		return fmt.Sprintf("Traceback (most recent call last):\n  File %q, line %d, in handler\n    x = a / b\nZeroDivisionError: division by zero", file, line)
	}
	billing := Signature("ZeroDivisionError", "", traceback("/app/billing.py", 42), "division by zero")
	reports := Signature("ZeroDivisionError", "", traceback("/app/reports.py", 7), "division by zero")
	if billing == reports {
		t.Error("errors raised in different files should not share a signature")
	}
	again := Signature("ZeroDivisionError", "", traceback("/app/billing.py", 42), "division by zero")
	if billing != again {
		t.Error("the same traceback should produce the same signature")
	}
}

func TestSignature_FramelessStackFallsBackToMessage(t *testing.T) {
	s1 := Signature("Timeout", "", "2024-02-17T01:00:00Z upstream timed out", "upstream timed out")
	s2 := Signature("Timeout", "", "2024-02-17T02:30:00Z upstream timed out", "upstream timed out")
	if s1 != s2 {
		t.Errorf("a stack without frames should not feed the signature:\n  %s\n  %s", s1, s2)
	}
	if s1 != Signature("Timeout", "", "", "upstream timed out") {
		t.Error("a stack without frames should behave like no stack")
	}
}

func TestSignature_ErrorTypeCaseInsensitive(t *testing.T) {
	if Signature("TypeError", "a.js:1", "", "") != Signature(" typeerror ", "a.js:1", "", "") {
		t.Error("error type comparison should ignore case and surrounding space")
	}
}

func TestSignature_DifferentTypeOrLocation(t *testing.T) {
	base := Signature("TypeError", "a.js:1", "", "boom")
	if base == Signature("RangeError", "a.js:1", "", "boom") {
		t.Error("different error types should have different signatures")
	}
	if base == Signature("TypeError", "a.js:2", "", "boom") {
		t.Error("different locations should have different signatures")
	}
}

func TestSignature_IsLowercaseHex(t *testing.T) {
	sig := Signature("Error", "main.go:1", "", "test message")
	if len(sig) != 64 {
		t.Errorf("expected 64 char hex string, got %d chars: %s", len(sig), sig)
	}
	for _, c := range sig {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("signature contains non-lowercase-hex char: %c", c)
			break
		}
	}
}

func TestTruncateString_KeepsRunesWhole(t *testing.T) {
	got := truncateString("héllo", 2)
	if got != "h" {
		t.Errorf("expected %q, got %q", "h", got)
	}
}
