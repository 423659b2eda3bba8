package transport

// Lifecycle signals reported by every Transport.
const (
	SignalConnect      = "connect"
	SignalDisconnect   = "disconnect"
	SignalConnectError = "connect_error"
)

// Server to client.
const (
	SignalNewMessage       = "new_message"
	SignalMessageUpdated   = "message_updated"
	SignalTypingIndicator  = "typing_indicator"
	SignalUserOnlineStatus = "user_online_status"
	SignalMessageRead      = "message_read"
	SignalMessageModerated = "message_moderated"
	SignalUserJoined       = "user_joined"
	SignalUserLeft         = "user_left"
	SignalError            = "error"
)

// Client to server.
const (
	SignalAuthenticate = "authenticate"
	SignalJoinChat     = "join_chat"
	SignalLeaveChat    = "leave_chat"
	SignalSendMessage  = "send_message"
	SignalTyping       = "typing"
	SignalMarkRead     = "mark_read"
)

// InboundSignals lists the content signals a client listens for.
var InboundSignals = []string{
	SignalNewMessage,
	SignalMessageUpdated,
	SignalTypingIndicator,
	SignalUserOnlineStatus,
	SignalMessageRead,
	SignalMessageModerated,
	SignalUserJoined,
	SignalUserLeft,
	SignalError,
}
