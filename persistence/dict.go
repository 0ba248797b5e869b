package persistence

import "net/url"

func urlEscape(s string) string { return url.QueryEscape(s) }

func urlUnescape(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return out
}
