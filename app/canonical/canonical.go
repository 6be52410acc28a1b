package canonical

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	numericSegment = regexp.MustCompile(`^[0-9]{5,}$`)
	postSegment    = regexp.MustCompile(`^[A-Za-z0-9]{6,}$`)
)

// Canonicalize normalizes an item identifier (usually its URL) into a stable
// key. It never fails: identifiers that are not absolute URLs are returned
// trimmed but otherwise unchanged.
func Canonicalize(rawID string) string {
	id := strings.TrimSpace(rawID)
	if id == "" {
		return id
	}

	u, err := url.Parse(id)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return id
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	base := scheme + "://" + host

	switch {
	case isMicroblogHost(host):
		if key, ok := microblogKey(base, u.Path); ok {
			return key
		}
	case isWeChatHost(host):
		return weChatKey(base, u)
	}

	return base + u.EscapedPath()
}

func isMicroblogHost(host string) bool {
	return host == "weibo.com" || strings.HasSuffix(host, ".weibo.com") ||
		host == "weibo.cn" || strings.HasSuffix(host, ".weibo.cn")
}

func isWeChatHost(host string) bool {
	return host == "mp.weixin.qq.com"
}

// microblogKey strips a post URL down to {base}/{user_id}/{post_id}.
func microblogKey(base, path string) (string, bool) {
	segments := splitPath(path)
	for i := 0; i+1 < len(segments); i++ {
		if numericSegment.MatchString(segments[i]) && postSegment.MatchString(segments[i+1]) {
			return base + "/" + segments[i] + "/" + segments[i+1], true
		}
	}
	return "", false
}

// weChatKey handles both public-article shapes: the long form keyed by
// __biz/mid/idx/sn, rebuilt in a fixed parameter order, and the short
// /s/{identifier} form.
func weChatKey(base string, u *url.URL) string {
	segments := splitPath(u.Path)

	if len(segments) >= 2 && segments[0] == "s" {
		return base + "/s/" + segments[1]
	}

	if len(segments) == 1 && segments[0] == "s" {
		q := u.Query()
		biz := q.Get("__biz")
		if biz == "" {
			biz = q.Get("biz")
		}
		mid, idx, sn := q.Get("mid"), q.Get("idx"), q.Get("sn")
		if biz != "" && mid != "" && idx != "" && sn != "" {
			return base + "/s?__biz=" + url.QueryEscape(biz) +
				"&mid=" + url.QueryEscape(mid) +
				"&idx=" + url.QueryEscape(idx) +
				"&sn=" + url.QueryEscape(sn)
		}
		// Without the full key set the query is the only identity the
		// article has, so keep it (sorted) rather than collapsing every
		// article onto "/s".
		if len(q) > 0 {
			return base + "/s?" + q.Encode()
		}
	}

	return base + u.EscapedPath()
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}
