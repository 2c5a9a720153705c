package domain

// MessageKind classifies an inbound channel message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindAudio MessageKind = "audio"
)

// MediaReference is an opaque handle into the channel's media store.
// It is resolved into raw bytes through the MediaDownloader collaborator.
type MediaReference struct {
	ID       string
	MimeHint string // optional, may be empty
}

// InboundMessage is a normalized message extracted from a channel envelope.
// Kind == KindText implies non-empty Text; Kind == KindAudio implies a
// non-empty Media.ID.
type InboundMessage struct {
	Sender string // channel-scoped sender identifier (phone number)
	Kind   MessageKind
	Text   string
	Media  MediaReference
}
