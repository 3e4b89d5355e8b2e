// Package mailparse decodes bounce message bodies and pulls the campaign and
// subscriber identifiers out of them.
package mailparse

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	transferEncodingRe = regexp.MustCompile(`(?im)^Content-Transfer-Encoding:[ \t]*([\w-]+)`)
	charsetRe          = regexp.MustCompile(`(?i)charset[ \t]*=[ \t]*"?([\w.:-]+)"?`)
)

// DecodeBody undoes the transfer encoding named in header. Unknown or
// absent encodings, and bodies that fail to decode, are returned as is.
// A declared non UTF-8 charset is converted to UTF-8 afterwards.
func DecodeBody(header, body string) string {
	decoded := body
	switch transferEncoding(header) {
	case "quoted-printable":
		b, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
		if err == nil {
			decoded = string(b)
		}
	case "base64":
		if b, ok := decodeBase64(body); ok {
			decoded = string(b)
		}
	}
	return toUTF8(header, decoded)
}

func transferEncoding(header string) string {
	m := transferEncodingRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func decodeBase64(body string) ([]byte, bool) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, body)
	if b, err := base64.StdEncoding.DecodeString(compact); err == nil {
		return b, true
	}
	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "=")); err == nil {
		return b, true
	}
	return nil, false
}

func toUTF8(header, text string) string {
	m := charsetRe.FindStringSubmatch(header)
	if m == nil {
		return text
	}
	switch cs := strings.ToLower(m[1]); cs {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return text
	default:
		enc, err := htmlindex.Get(cs)
		if err != nil {
			return text
		}
		out, err := enc.NewDecoder().String(text)
		if err != nil {
			return text
		}
		return out
	}
}
