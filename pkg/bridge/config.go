package bridge

import "time"

// Config controls one Transport instance. Fields tagged for
// pkg/config.Load so a host process can populate it from environment
// variables or a .env file; callers that construct it by hand are
// free to ignore the tags entirely.
type Config struct {
	// MiddlewareName identifies this transport in logs and naming
	// records. Required.
	MiddlewareName string `env:"ZMQBRIDGE_MIDDLEWARE_NAME" validate:"required"`

	// IncomingAddress and OutgoingAddress are the subscriber/publisher
	// socket endpoints this transport binds or connects to.
	IncomingAddress []string `env:"ZMQBRIDGE_INCOMING_ADDRESS" validate:"required,min=1"`
	OutgoingAddress []string `env:"ZMQBRIDGE_OUTGOING_ADDRESS" validate:"required,min=1"`

	// NamingEnabled turns on the HELLO/GOODBYE discovery exchange.
	NamingEnabled bool `env:"ZMQBRIDGE_NAMING_ENABLED" env-default:"false"`

	// NamingBindAddress is where this transport's naming PUB socket
	// binds, so peers can discover it. Required when NamingEnabled.
	NamingBindAddress string `env:"ZMQBRIDGE_NAMING_BIND_ADDRESS"`

	// NamingAddress lists the naming PUB endpoints of peers this
	// transport's naming SUB socket connects to.
	NamingAddress         []string      `env:"ZMQBRIDGE_NAMING_ADDRESS"`
	NamingRetransmitEvery time.Duration `env:"ZMQBRIDGE_NAMING_RETRANSMIT" env-default:"30s"`

	// PollTimeout bounds how long the dispatcher's poll call blocks
	// before re-checking for shutdown. Smaller values make shutdown
	// more responsive at the cost of more frequent wakeups.
	PollTimeout time.Duration `env:"ZMQBRIDGE_POLL_TIMEOUT" env-default:"100ms"`

	// QueueDepth is the default capacity of a subscription or inbox's
	// event queue when the caller doesn't specify one explicitly.
	QueueDepth int `env:"ZMQBRIDGE_QUEUE_DEPTH" env-default:"1024" validate:"min=1"`

	// PublishRetryAttempts/PublishRetryBackoff configure the resilient
	// publish path (pkg/resilience). Zero attempts disables retry.
	PublishRetryAttempts int           `env:"ZMQBRIDGE_PUBLISH_RETRY_ATTEMPTS" env-default:"3"`
	PublishRetryBackoff  time.Duration `env:"ZMQBRIDGE_PUBLISH_RETRY_BACKOFF" env-default:"50ms"`

	// InboxReplyTimeout is the deadline WaitReply uses when its caller
	// passes a non-positive timeout. It is a plain deadline, never retried: per-spec, a
	// timed-out inbox request is reported to the caller, not resent.
	InboxReplyTimeout time.Duration `env:"ZMQBRIDGE_INBOX_REPLY_TIMEOUT" env-default:"5s"`

	// ShutdownTimeout bounds how long Destroy waits for the dispatcher
	// goroutine to exit before giving up and closing sockets anyway.
	ShutdownTimeout time.Duration `env:"ZMQBRIDGE_SHUTDOWN_TIMEOUT" env-default:"5s"`
}
