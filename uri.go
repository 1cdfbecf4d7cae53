package sftpfs

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sftpfs/sftpfs/sfterrors"
)

const scheme = "sftp"
const defaultPort = 22

// authorityKey is the normalized (scheme, user, host, port) tuple used as
// the process-wide filesystem identity.
type authorityKey struct {
	user string
	host string
	port int
}

func (k authorityKey) String() string {
	if k.user == "" {
		return k.host + ":" + strconv.Itoa(k.port)
	}
	return k.user + "@" + k.host + ":" + strconv.Itoa(k.port)
}

// parsedURI is what parseURI extracts from an sftp:// URI: the authority
// key plus whatever a caller may additionally need (password, path).
type parsedURI struct {
	key      authorityKey
	password string
	path     string
}

// parseURI validates scheme and authority and normalizes the result:
// lowercase scheme, default port 22, password kept separately from the key
// it never participates in. The host is kept exactly as supplied: the
// authority key compares case-sensitively on user and host, so two
// differently-cased spellings of the same server are treated as distinct
// authorities rather than silently merged.
func parseURI(raw string) (parsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURI{}, sfterrors.NewIllegalArgument(sfterrors.OpOpenInput, "malformed URI: "+err.Error())
	}
	if strings.ToLower(u.Scheme) != scheme {
		return parsedURI{}, sfterrors.NewIllegalArgument(sfterrors.OpOpenInput, "invalid scheme: "+u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return parsedURI{}, sfterrors.NewIllegalArgument(sfterrors.OpOpenInput, "URI is not absolute: missing host")
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return parsedURI{}, sfterrors.NewIllegalArgument(sfterrors.OpOpenInput, "invalid port: "+p)
		}
		port = n
	}

	var user, password string
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	return parsedURI{
		key:      authorityKey{user: user, host: host, port: port},
		password: password,
		path:     u.Path,
	}, nil
}

// normalizeWithoutPassword reconstructs the canonical URI string for error
// messages and registry lookups: lowercase scheme, password stripped,
// query/fragment discarded, path discarded (authority-only key). It is a
// pure function of its input.
func normalizeWithoutPassword(raw string) (string, error) {
	p, err := parseURI(raw)
	if err != nil {
		return "", err
	}
	return buildAuthorityURI(p.key), nil
}

func buildAuthorityURI(key authorityKey) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if key.user != "" {
		b.WriteString(key.user)
		b.WriteByte('@')
	}
	b.WriteString(key.host)
	if key.port != defaultPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(key.port))
	}
	return b.String()
}
