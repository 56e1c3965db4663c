package rewrite

import (
	"net/url"
	"strconv"
	"strings"

	"chanrelay/work/buffer"
	"chanrelay/work/types"

	"github.com/grafana/regexp"
)

// DefaultPrefix is the proxy endpoint used when the context carries none.
const DefaultPrefix = "/stream"

var (
	// first quoted URI attribute of a tag line
	keyURIPattern = regexp.MustCompile(`URI="([^"]*)"`)

	manifestBuffers = buffer.NewBufferPool(16 * 1024)
)

// Resolve resolves ref against origin following RFC 3986. Absolute references
// are returned unchanged. If either side does not parse, ref is returned as is.
func Resolve(origin, ref string) string {
	base, err := url.Parse(origin)
	if err != nil {
		return ref
	}
	target, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(target).String()
}

// ProxyURL builds the relay URL for an absolute upstream reference.
func ProxyURL(rc types.RewriteContext, absolute string) string {
	prefix := rc.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix +
		"?url=" + url.QueryEscape(absolute) +
		"&channel=" + url.QueryEscape(rc.Channel) +
		"&server=" + strconv.FormatInt(rc.ServerID, 10)
}

// EntryURL builds the relay URL that opens a record's own link. It carries no
// upstream URL, so it is safe to hand to viewers.
func EntryURL(prefix, channel string, serverID int64) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix +
		"?channel=" + url.QueryEscape(channel) +
		"&server=" + strconv.FormatInt(serverID, 10)
}

// Rewrite routes every reference in an HLS manifest through the relay.
//
// Encryption key lines (#EXT-X-KEY) get their URI attribute replaced. Every
// other non-empty line that is not a tag or comment is treated as a segment or
// variant reference and replaced entirely. All remaining lines are kept
// byte for byte. Line order is preserved and lines are joined with "\n".
func Rewrite(manifest string, rc types.RewriteContext) string {
	buf := manifestBuffers.Get()
	defer manifestBuffers.Put(buf)

	first := true
	for line := range strings.SplitSeq(manifest, "\n") {
		if !first {
			buf.WriteByte('\n')
		}
		first = false
		buf.WriteString(rewriteLine(line, rc))
	}
	return buf.String()
}

func rewriteLine(line string, rc types.RewriteContext) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return line
	case strings.HasPrefix(trimmed, "#EXT-X-KEY"):
		return rewriteKey(line, rc)
	case strings.HasPrefix(trimmed, "#"):
		return line
	default:
		return ProxyURL(rc, Resolve(rc.Origin, trimmed))
	}
}

func rewriteKey(line string, rc types.RewriteContext) string {
	loc := keyURIPattern.FindStringSubmatchIndex(line)
	if loc == nil || loc[3] == loc[2] {
		return line
	}
	ref := line[loc[2]:loc[3]]
	return line[:loc[2]] + ProxyURL(rc, Resolve(rc.Origin, ref)) + line[loc[3]:]
}
