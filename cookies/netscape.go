package cookies

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// httpOnlyPrefix marks HttpOnly entries in curl/yt-dlp style exports.
const httpOnlyPrefix = "#HttpOnly_"

// ParseNetscape parses a Netscape cookies.txt stream.
// Format: domain flag path secure expiration name value
func ParseNetscape(r io.Reader) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
			httpOnly = true
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}

		cookie := &http.Cookie{
			Domain:   parts[0],
			Path:     parts[2],
			Secure:   strings.EqualFold(parts[3], "TRUE"),
			Name:     parts[5],
			Value:    strings.TrimSpace(parts[6]),
			HttpOnly: httpOnly,
		}
		// 0 marks a session cookie
		if expires, err := strconv.ParseInt(parts[4], 10, 64); err == nil && expires > 0 {
			cookie.Expires = time.Unix(expires, 0)
		}
		cookies = append(cookies, cookie)
	}

	return cookies, scanner.Err()
}

// LoadNetscape opens path and parses it with ParseNetscape.
func LoadNetscape(path string) ([]*http.Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cookies file: %w", err)
	}
	defer f.Close()

	cookies, err := ParseNetscape(f)
	if err != nil {
		return nil, fmt.Errorf("parse cookies file %s: %w", path, err)
	}
	return cookies, nil
}

// Find returns the value of the first cookie called name whose domain
// matches domainSuffix, or "" when none does.
func Find(cookies []*http.Cookie, name, domainSuffix string) string {
	for _, c := range cookies {
		if c.Name != name {
			continue
		}
		if domainSuffix == "" || strings.HasSuffix(strings.TrimPrefix(c.Domain, "."), strings.TrimPrefix(domainSuffix, ".")) {
			return c.Value
		}
	}
	return ""
}
