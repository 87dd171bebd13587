package email

import (
	"strings"
)

// Role is the header a recipient was named in.
type Role int

const (
	RoleTo Role = iota
	RoleCc
	RoleBcc
)

func (r Role) String() string {
	switch r {
	case RoleTo:
		return "to"
	case RoleCc:
		return "cc"
	case RoleBcc:
		return "bcc"
	default:
		return "unknown"
	}
}

// Recipient is one unique delivery target of a message.
type Recipient struct {
	Address string
	Role    Role
}

// ExtractAddress returns the bare address of a token, taking the part
// between angle brackets when present.
func ExtractAddress(token string) string {
	v := strings.TrimSpace(token)
	lt := strings.IndexByte(v, '<')
	gt := strings.IndexByte(v, '>')
	if lt >= 0 && gt > lt {
		v = v[lt+1 : gt]
	}
	return strings.TrimSpace(v)
}

// SplitAddresses splits a raw list on ";" and "," and returns the
// extracted, non-empty addresses in order.
func SplitAddresses(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := ExtractAddress(p); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// HasAny reports whether any of the raw lists is non-blank.
func HasAny(lists ...string) bool {
	for _, l := range lists {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

// CollectRecipients returns the unique recipients of a message keyed by
// lower-cased address. Bcc is collected first, then Cc, then To, and the
// first role seen for an address wins.
func CollectRecipients(to, cc, bcc string) []Recipient {
	seen := make(map[string]struct{})
	var out []Recipient
	add := func(raw string, role Role) {
		for _, addr := range SplitAddresses(raw) {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Recipient{Address: key, Role: role})
		}
	}
	add(bcc, RoleBcc)
	add(cc, RoleCc)
	add(to, RoleTo)
	return out
}

// AggregateRecipients joins the unique addresses of all groups with ",",
// keeping the spelling of the first occurrence.
func AggregateRecipients(groups ...string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range groups {
		for _, addr := range SplitAddresses(g) {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return strings.Join(out, ",")
}

// IsInternal reports whether addr ends with the internal domain suffix.
func IsInternal(addr, domain string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" || domain == "" {
		return false
	}
	return strings.HasSuffix(addr, strings.ToLower(domain))
}

// FilterExternal returns the unique addresses of raw that are not
// internal, joined with ",". The result is empty when nothing remains.
func FilterExternal(raw, domain string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, addr := range SplitAddresses(raw) {
		if IsInternal(addr, domain) {
			continue
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return strings.Join(out, ",")
}

// FormatSender renders "Display <addr>" or just addr when no display
// name is set.
func FormatSender(display, addr string) string {
	if strings.TrimSpace(display) != "" {
		return display + " <" + addr + ">"
	}
	return addr
}
