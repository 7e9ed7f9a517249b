package provider

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnauthorized = errors.New("provider: unauthorized")
	ErrNotFound     = errors.New("provider: not found")
)

// Session identifies the authenticated principal behind a connection's token.
type Session struct {
	UserID   string
	UserName string
}

// Channel is a provider-side delivery channel for pushed events.
type Channel struct {
	ID         string
	ConnectURI string
	Expires    time.Time
}

// Message is one frame delivered on a channel's duplex stream.
type Message struct {
	TopicName string `json:"topicName"`
	EventBody []byte `json:"eventBody"`
}

type User struct {
	ID   string
	Name string
}

type UserPresence struct {
	SystemPresence string
	Message        string
	ModifiedDate   time.Time
}

type Evaluation struct {
	ID string
	// Score is the provider's raw total score in [0,1].
	Score        float64
	Evaluator    string
	FormName     string
	ModifiedDate time.Time
}

type Queue struct {
	ID   string
	Name string
}

type QueueMember struct {
	UserID string
	Name   string
	Joined bool
}

// Participant is a party on an in-flight conversation. State distinguishes
// contacts still waiting for an agent from connected ones.
type Participant struct {
	QueueID   string
	Purpose   string
	State     string
	StartTime time.Time
}

type Conversation struct {
	ID           string
	Participants []Participant
}

// TimeWindow bounds an evaluation query.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// API is the remote data provider surface the ingestion core depends on.
// Implementations wrap the vendor's HTTP API for one connection's region
// and credential.
type API interface {
	Authenticate(ctx context.Context) (Session, error)

	CreateChannel(ctx context.Context) (Channel, error)
	Subscribe(ctx context.Context, channelID string, topics []string) error

	ListUsers(ctx context.Context, pageNumber, pageSize int) ([]User, error)
	GetUserPresence(ctx context.Context, userID string) (UserPresence, error)
	ListEvaluations(ctx context.Context, window TimeWindow, pageSize int) ([]Evaluation, error)
	ListQueues(ctx context.Context, pageNumber, pageSize int) ([]Queue, error)
	ListQueueMembers(ctx context.Context, queueID string, joinedOnly bool) ([]QueueMember, error)
	ListActiveConversations(ctx context.Context) ([]Conversation, error)
}

// Stream is a live duplex subscription to a channel's delivery URI. Read
// blocks until a frame arrives, the context is cancelled, or the transport
// fails.
type Stream interface {
	Read(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens the stream for a channel.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Stream, error)
}
