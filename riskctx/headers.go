package riskctx

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/stepup"
)

// UnknownCountry is used when no header or resolver yields a country.
const UnknownCountry = "XX"

// CountryResolver maps an IP address to an ISO 3166-1 alpha-2 code. An empty
// result means unknown.
type CountryResolver interface {
	Country(ip string) (string, error)
}

// Options carries the non-header parts of a RiskContext.
type Options struct {
	Action        stepup.Action
	Factors       stepup.UserFactors
	DeviceTrusted bool
	DeviceID      string

	// Resolver is consulted only when no country header is present.
	Resolver CountryResolver
}

// HeaderFunc returns the value of a header, or "" when absent.
type HeaderFunc func(name string) string

// FromRequest is FromHeaders over r.Header and r.RemoteAddr.
func FromRequest(r *http.Request, opts Options) stepup.RiskContext {
	return FromHeaders(r.Header.Get, r.RemoteAddr, opts)
}

// FromHeaders derives a RiskContext. remoteAddr may be "host:port" or a bare
// host and is used only when no IP header is present.
func FromHeaders(get HeaderFunc, remoteAddr string, opts Options) stepup.RiskContext {
	h := func(name string) string {
		return strings.TrimSpace(get(name))
	}

	rc := stepup.RiskContext{
		IP:            first(h("x-client-ip"), h("cf-connecting-ip"), firstForwarded(h("x-forwarded-for")), remoteHost(remoteAddr)),
		UserAgent:     first(h("x-client-ua"), h("user-agent")),
		Device:        first(h("x-client-device"), h("sec-ch-ua")),
		Platform:      unquote(first(h("x-client-platform"), h("sec-ch-ua-platform"))),
		Mobile:        parseMobile(first(h("x-client-mobile"), h("sec-ch-ua-mobile"))),
		CorrelationID: first(h("x-client-ray"), h("cf-ray")),
		DeviceTrusted: opts.DeviceTrusted,
		DeviceID:      opts.DeviceID,
		Action:        opts.Action,
		Factors:       opts.Factors,
	}

	rc.Country = strings.ToUpper(first(h("x-client-country"), h("cf-ipcountry")))
	if rc.Country == "" && opts.Resolver != nil && rc.IP != "" {
		if cc, err := opts.Resolver.Country(rc.IP); err == nil {
			rc.Country = strings.ToUpper(strings.TrimSpace(cc))
		}
	}
	if rc.Country == "" {
		rc.Country = UnknownCountry
	}

	if score, ok := parseBotScore(first(h("x-client-bot-score"), h("cf-bot-score"))); ok {
		rc = rc.WithBotScore(score)
	}

	return rc
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstForwarded(v string) string {
	if v == "" {
		return ""
	}
	head, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(head)
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// parseMobile accepts the structured-header boolean "?1" as well as "1" and
// "true".
func parseMobile(v string) bool {
	switch strings.ToLower(v) {
	case "?1", "1", "true":
		return true
	default:
		return false
	}
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

func parseBotScore(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	score, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}
