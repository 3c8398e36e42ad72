package browser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/go-rod/rod/lib/proto"
)

// StorageState is a serialized browser session: cookies plus per-origin
// localStorage. The JSON shape matches the storage-state files written by
// other browser tooling, so files are interchangeable.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// Cookie is one stored cookie. Expires is seconds since the epoch, -1 for a
// session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginState holds the localStorage of one origin.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// NameValue is a storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Empty reports whether the state carries nothing to restore.
func (s StorageState) Empty() bool {
	return len(s.Cookies) == 0 && len(s.Origins) == 0
}

// ParseState decodes a storage-state document.
func ParseState(data []byte) (StorageState, error) {
	var s StorageState
	if err := json.Unmarshal(data, &s); err != nil {
		return StorageState{}, fmt.Errorf("parse storage state: %w", err)
	}
	for i, o := range s.Origins {
		if _, err := url.Parse(o.Origin); err != nil || o.Origin == "" {
			return StorageState{}, fmt.Errorf("parse storage state: origin %d invalid: %q", i, o.Origin)
		}
	}
	return s, nil
}

// ReadStateFile loads a storage-state file.
func ReadStateFile(path string) (StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StorageState{}, err
	}
	return ParseState(data)
}

func cookieParams(cookies []Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	return params
}

func fromNetworkCookies(cookies []*proto.NetworkCookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		exp := float64(c.Expires)
		if c.Session || exp <= 0 {
			exp = -1
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  exp,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// originOf returns scheme://host[:port] of raw.
func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q has no origin", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
