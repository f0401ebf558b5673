package server

import (
	"regexp"
	"strings"

	"pollchat/protocol"
)

// The route set is closed: four exact-match routes plus the one pattern
// route carrying the chat name. Anything else is unknown_route.
type routeKind int

const (
	routeUnknown routeKind = iota
	routeConnect
	routeStatus
	routeSend
	routeSendTo
	routeMessages
	routeClose
)

var messagesPath = regexp.MustCompile(`^/chats/([^/]+)/messages$`)

// resolveRoute maps method+path to a route, returning the chat name for the
// messages route. Trailing slashes are tolerated.
func resolveRoute(method, path string) (routeKind, string) {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	switch method + " " + path {
	case "POST /connect":
		return routeConnect, ""
	case "GET /status":
		return routeStatus, ""
	case "POST /send":
		return routeSend, ""
	case "POST /send_to":
		return routeSendTo, ""
	case "POST /close":
		return routeClose, ""
	}

	if method == "POST" {
		if m := messagesPath.FindStringSubmatch(path); m != nil {
			return routeMessages, m[1]
		}
	}

	return routeUnknown, ""
}

// dispatch resolves the route, enforces the auth gate on everything but
// connect, and invokes the handler. Every error leaves here as a structured
// response; nothing propagates to the connection loop.
func (s *Server) dispatch(state *connState, req *protocol.Request) *protocol.Response {
	kind, chatName := resolveRoute(req.Method, req.Path)

	if kind == routeUnknown {
		return errorResponse(404, "unknown_route", "Endpoint not found")
	}

	if kind == routeConnect {
		return s.handleConnect(state, req)
	}

	token := req.Header("Authorization")
	login, err := s.auth.Resolve(token)
	if err != nil {
		return errorResponse(401, "invalid_token", "Unknown or expired token")
	}
	state.phase = phaseAuthenticated
	state.login = login

	switch kind {
	case routeStatus:
		return s.handleStatus(login)
	case routeSend:
		return s.handleSend(login, req)
	case routeSendTo:
		return s.handleSendTo(login, req)
	case routeMessages:
		return s.handleMessages(login, chatName)
	case routeClose:
		return s.handleClose(state, token)
	}

	return errorResponse(404, "unknown_route", "Endpoint not found")
}
