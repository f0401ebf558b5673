package server

import (
	"encoding/json"
	"errors"
	"log"

	"pollchat/auth"
	"pollchat/chat"
	"pollchat/models"
	"pollchat/protocol"
)

type connectRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type sendRequest struct {
	Message string `json:"message"`
}

type sendToRequest struct {
	UserLogin string `json:"user_login"`
	Message   string `json:"message"`
}

// messageJSON is the wire shape of one message. Chat is set only in the
// connect snapshot; the per-chat messages route omits it.
type messageJSON struct {
	Chat   string `json:"chat,omitempty"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
	Seq    int64  `json:"seq"`
}

type chatJSON struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleConnect(state *connState, req *protocol.Request) *protocol.Response {
	var body connectRequest
	if len(req.Body) == 0 || json.Unmarshal(req.Body, &body) != nil {
		return errorResponse(400, "malformed_request", "Invalid request body")
	}

	if body.Login == "" || body.Password == "" {
		return errorResponse(401, "invalid_credentials", "Invalid credentials")
	}

	token, err := s.auth.Connect(body.Login, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return errorResponse(401, "invalid_credentials", "Invalid credentials")
		}
		log.Printf("Connect error for %s: %v", body.Login, err)
		return errorResponse(500, "internal_error", "Internal error")
	}

	snapshot := s.chats.JoinMain(body.Login)

	state.phase = phaseAuthenticated
	state.login = body.Login

	messages := make([]messageJSON, 0, len(snapshot))
	for _, msg := range snapshot {
		messages = append(messages, messageJSON{
			Chat:   msg.Chat,
			Sender: msg.Sender,
			Body:   msg.Body,
			Seq:    msg.Seq,
		})
	}

	return jsonResponse(200, map[string]any{
		"token":    token,
		"messages": messages,
	})
}

func (s *Server) handleStatus(login string) *protocol.Response {
	infos := s.chats.Status(login)

	chats := make([]chatJSON, 0, len(infos))
	for _, info := range infos {
		chats = append(chats, chatJSON{Name: info.Name, Members: info.Members})
	}

	return jsonResponse(200, map[string]any{"chats": chats})
}

func (s *Server) handleSend(login string, req *protocol.Request) *protocol.Response {
	var body sendRequest
	if len(req.Body) == 0 || json.Unmarshal(req.Body, &body) != nil {
		return errorResponse(400, "malformed_request", "Invalid request body")
	}

	if body.Message == "" {
		return errorResponse(400, "empty_message", "Message text required")
	}

	msg, err := s.chats.AppendMain(login, body.Message)
	if err != nil {
		log.Printf("Send error for %s: %v", login, err)
		return errorResponse(500, "internal_error", "Internal error")
	}

	return jsonResponse(200, map[string]any{"seq": msg.Seq})
}

func (s *Server) handleSendTo(login string, req *protocol.Request) *protocol.Response {
	var body sendToRequest
	if len(req.Body) == 0 || json.Unmarshal(req.Body, &body) != nil {
		return errorResponse(400, "malformed_request", "Invalid request body")
	}

	if body.UserLogin == "" {
		return errorResponse(400, "malformed_request", "Recipient required")
	}
	if body.Message == "" {
		return errorResponse(400, "empty_message", "Message text required")
	}

	// The recipient only has to exist, not be online; the message waits in
	// the shared log until their next poll.
	if !s.auth.UserExists(body.UserLogin) {
		return errorResponse(404, "unknown_recipient", "User not found")
	}

	msg, err := s.chats.AppendPrivate(login, body.UserLogin, body.Message)
	if err != nil {
		log.Printf("Send_to error for %s: %v", login, err)
		return errorResponse(500, "internal_error", "Internal error")
	}

	return jsonResponse(200, map[string]any{"chat": msg.Chat, "seq": msg.Seq})
}

func (s *Server) handleMessages(login, chatName string) *protocol.Response {
	unread, err := s.chats.MessagesSince(login, chatName)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownChat) {
			return errorResponse(404, "unknown_chat", "Chat not found")
		}
		if errors.Is(err, chat.ErrNotAMember) {
			return errorResponse(403, "not_a_member", "Not a member of this chat")
		}
		log.Printf("Messages error for %s: %v", login, err)
		return errorResponse(500, "internal_error", "Internal error")
	}

	return jsonResponse(200, map[string]any{"messages": toMessageJSON(unread)})
}

func (s *Server) handleClose(state *connState, token string) *protocol.Response {
	s.auth.Revoke(token)
	state.phase = phaseClosed
	return jsonResponse(200, map[string]any{"status": "closed"})
}

func toMessageJSON(messages []models.Message) []messageJSON {
	out := make([]messageJSON, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageJSON{Sender: msg.Sender, Body: msg.Body, Seq: msg.Seq})
	}
	return out
}

func jsonResponse(status int, v any) *protocol.Response {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		return errorResponse(500, "internal_error", "Internal error")
	}
	return &protocol.Response{Status: status, Body: body}
}

func errorResponse(status int, code, message string) *protocol.Response {
	body, _ := json.Marshal(errorJSON{Error: code, Message: message})
	return &protocol.Response{Status: status, Body: body}
}
