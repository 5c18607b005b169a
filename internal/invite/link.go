package invite

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrMissingSession = errors.New("deep link has no session id")
	ErrUnknownRoute   = errors.New("deep link route not supported")
)

const (
	RouteRace       = "race"
	RouteRaceViewer = "race-viewer"

	ModeJoin = "join"
)

// Link is a parsed deep link. SessionID is the circuit to open.
type Link struct {
	Route     string `json:"route"`
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode,omitempty"`
}

// ParseDeepLink accepts custom-scheme links (karttracker://race-viewer?...)
// and web links (https://host/race?...). Join invitations carry circuitId
// instead of sessionId; both are accepted.
func ParseDeepLink(raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{}, ErrUnknownRoute
	}

	var route string
	switch u.Scheme {
	case "http", "https":
		route = strings.Trim(u.Path, "/")
	default:
		route = strings.Trim(u.Host+u.Path, "/")
	}
	if route != RouteRace && route != RouteRaceViewer {
		return Link{}, ErrUnknownRoute
	}

	q := u.Query()
	session := q.Get("sessionId")
	if session == "" {
		session = q.Get("circuitId")
	}
	if session == "" {
		return Link{}, ErrMissingSession
	}
	return Link{Route: route, SessionID: session, Mode: q.Get("mode")}, nil
}

// Links builds outgoing links for one deployment.
type Links struct {
	Scheme  string
	WebBase string
}

// JoinURL is the app link embedded in invitations.
func (l Links) JoinURL(circuitID string) string {
	return l.Scheme + "://" + RouteRace + "?" + joinQuery(circuitID)
}

// WebJoinURL is the fallback for clients without the app installed.
func (l Links) WebJoinURL(circuitID string) string {
	return strings.TrimRight(l.WebBase, "/") + "/" + RouteRace + "?" + joinQuery(circuitID)
}

func (l Links) ViewerURL(circuitID string) string {
	v := url.Values{}
	v.Set("sessionId", circuitID)
	return l.Scheme + "://" + RouteRaceViewer + "?" + v.Encode()
}

func joinQuery(circuitID string) string {
	return "mode=" + ModeJoin + "&circuitId=" + url.QueryEscape(circuitID)
}
