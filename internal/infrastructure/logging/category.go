package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	Connection      Category = "Connection"
	Room            Category = "Room"
	Dispatch        Category = "Dispatch"
	Fallback        Category = "Fallback"
	RabbitMQ        Category = "RabbitMQ"
	Hub             Category = "Hub"
	Moderation      Category = "Moderation"
	Internal        Category = "Internal"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// Connection
	Handshake  SubCategory = "Handshake"
	Reconnect  SubCategory = "Reconnect"
	Transition SubCategory = "Transition"
	Wire       SubCategory = "Wire"

	// Room / Dispatch
	Join     SubCategory = "Join"
	Leave    SubCategory = "Leave"
	Replay   SubCategory = "Replay"
	Callback SubCategory = "Callback"
	Decode   SubCategory = "Decode"

	// Fallback
	Send    SubCategory = "Send"
	History SubCategory = "History"

	// Dev server
	Api     SubCategory = "Api"
	Session SubCategory = "Session"
	Publish SubCategory = "Publish"
	Consume SubCategory = "Consume"
	Verdict SubCategory = "Verdict"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
	ChatID       ExtraKey = "ChatId"
	UserID       ExtraKey = "UserId"
	MessageID    ExtraKey = "MessageId"
	Event        ExtraKey = "Event"
	FromState    ExtraKey = "FromState"
	ToState      ExtraKey = "ToState"
	Attempt      ExtraKey = "Attempt"
	Delay        ExtraKey = "Delay"
	URL          ExtraKey = "Url"
	Count        ExtraKey = "Count"
	SessionID    ExtraKey = "SessionId"
	Transport    ExtraKey = "Transport"
)
