// Copyright 2021 The gg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package quote implements the C-style and single-quote shell quoting
// conventions used to emit object and path names into human-readable
// reports, grounded directly on git's quote.c.
package quote

import "strings"

// SQ wraps s in single quotes for POSIX shell consumption, escaping any
// embedded single quote as '\'' so the result is always exactly one shell
// word that expands back to s.
func SQ(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(s[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// NeedsCStyleQuoting reports whether s contains any byte that CStyle would
// escape: a control character, double quote, backslash, or DEL.
func NeedsCStyleQuoting(s string) bool {
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			return true
		}
	}
	return false
}

func needsEscape(ch byte) bool {
	return ch < ' ' || ch == '"' || ch == '\\' || ch == 0177
}

// CStyle returns s enclosed in double quotes, with control characters,
// double quotes, and backslashes escaped the way git's quote_c_style does:
// named C escapes for the common control characters (\a \b \f \n \r \t \v),
// \\ and \" verbatim, a literal space left unescaped, and the remaining
// control characters and DEL as a 3-digit octal escape. Bytes 0x80 and
// above are copied through unescaped. CStyle always quotes,
// even when s needs no escaping, so that UnquoteCStyle(CStyle(s)) == s for
// every byte string s.
func CStyle(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case !needsEscape(ch):
			b.WriteByte(ch)
		case ch == '\a':
			b.WriteString(`\a`)
		case ch == '\b':
			b.WriteString(`\b`)
		case ch == '\f':
			b.WriteString(`\f`)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\r':
			b.WriteString(`\r`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch == '\v':
			b.WriteString(`\v`)
		case ch == '\\' || ch == '"':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte('\\')
			b.WriteByte('0' + (ch>>6)&0x3)
			b.WriteByte('0' + (ch>>3)&0x7)
			b.WriteByte('0' + ch&0x7)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// MalformedError reports that UnquoteCStyle was given input that is not
// valid C-style quoted text.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "unquote c-style: " + e.Reason
}

// UnquoteCStyle parses a C-style quoted string starting at the opening
// double quote in quoted. It returns the unescaped value and the
// unconsumed remainder of quoted, which begins just past the closing
// double quote.
func UnquoteCStyle(quoted string) (value, rest string, err error) {
	if len(quoted) == 0 || quoted[0] != '"' {
		return "", "", &MalformedError{Reason: "missing opening quote"}
	}
	s := quoted[1:]
	var b strings.Builder
	for {
		if len(s) == 0 {
			return "", "", &MalformedError{Reason: "missing closing quote"}
		}
		ch := s[0]
		s = s[1:]
		if ch == '"' {
			return b.String(), s, nil
		}
		if ch != '\\' {
			b.WriteByte(ch)
			continue
		}
		if len(s) == 0 {
			return "", "", &MalformedError{Reason: "trailing backslash"}
		}
		esc := s[0]
		s = s[1:]
		switch esc {
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case '\\', '"':
			b.WriteByte(esc)
		case '0', '1', '2', '3', '4', '5', '6', '7':
			if len(s) < 2 {
				return "", "", &MalformedError{Reason: "truncated octal escape"}
			}
			d1, d2 := s[0], s[1]
			if d1 < '0' || d1 > '7' || d2 < '0' || d2 > '7' {
				return "", "", &MalformedError{Reason: "invalid octal escape"}
			}
			s = s[2:]
			v := (int(esc-'0') << 6) | (int(d1-'0') << 3) | int(d2-'0')
			b.WriteByte(byte(v))
		default:
			return "", "", &MalformedError{Reason: "unrecognized escape"}
		}
	}
}

// WriteNameQuoted returns prefix+name, C-style quoted as a unit (with
// quotes added only around the combined string) if quote is true and
// either prefix or name needs it; otherwise it returns prefix+name
// unmodified, mirroring git's write_name_quoted.
func WriteNameQuoted(prefix, name string, quote bool) string {
	if !quote || (!NeedsCStyleQuoting(prefix) && !NeedsCStyleQuoting(name)) {
		return prefix + name
	}
	// CStyle always wraps in quotes; strip the pair from each part's
	// encoding and re-wrap the concatenation once.
	var b strings.Builder
	b.WriteByte('"')
	b.WriteString(unwrapQuotes(CStyle(prefix)))
	b.WriteString(unwrapQuotes(CStyle(name)))
	b.WriteByte('"')
	return b.String()
}

func unwrapQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
