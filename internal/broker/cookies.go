package broker

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// RequiredGoogleCookies are the session cookies a Google web session cannot work without.
var RequiredGoogleCookies = []string{"SID", "HSID", "SSID", "APISID", "SAPISID"}

// ErrNoCookies is returned by ParseCookies when the input holds no name=value pair.
var ErrNoCookies = errors.New("no cookies found in input")

var curlCookiePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:-H|--header)\s+'cookie:\s*([^']*)'`),
	regexp.MustCompile(`(?i)(?:-H|--header)\s+"cookie:\s*([^"]*)"`),
	regexp.MustCompile(`(?i)(?:-b|--cookie)\s+'([^']*)'`),
	regexp.MustCompile(`(?i)(?:-b|--cookie)\s+"([^"]*)"`),
}

// Cookies maps cookie names to values.
type Cookies map[string]string

// Clone returns an independent copy. A nil receiver yields nil.
func (c Cookies) Clone() Cookies {
	if c == nil {
		return nil
	}
	out := make(Cookies, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Header renders the cookies as a Cookie header value with names in sorted order.
func (c Cookies) Header() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(c[name])
	}
	return sb.String()
}

// Missing returns the names from required that have no value in c.
func (c Cookies) Missing(required ...string) []string {
	var missing []string
	for _, name := range required {
		if c[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// ParseCookies extracts cookies from a raw "a=b; c=d" string, a "Cookie: ..." header
// line, or a cURL command carrying the cookies in -H 'cookie: ...' or -b '...'.
func ParseCookies(input string) (Cookies, error) {
	s := strings.TrimSpace(input)

	if len(s) >= 5 && strings.EqualFold(s[:5], "curl ") {
		found := false
		for _, re := range curlCookiePatterns {
			if m := re.FindStringSubmatch(s); m != nil {
				s = m[1]
				found = true
				break
			}
		}
		if !found {
			return nil, ErrNoCookies
		}
	} else if len(s) >= 7 && strings.EqualFold(s[:7], "cookie:") {
		s = s[7:]
	}

	cookies := make(Cookies)
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}

	if len(cookies) == 0 {
		return nil, ErrNoCookies
	}
	return cookies, nil
}
