package auth

import "strings"

// ChannelType classifies a channel name into the access class that decides
// whether a subscription must be authorized first.
type ChannelType string

const (
	ChannelPublic   ChannelType = "public"
	ChannelPrivate  ChannelType = "private"
	ChannelPresence ChannelType = "presence"
)

const (
	privatePrefix  = "private-"
	presencePrefix = "presence-"
)

// ClassifyChannel derives the channel class from its name prefix. The prefix
// convention is the only place channel names carry meaning; everything else
// treats names as opaque keys.
func ClassifyChannel(name string) ChannelType {
	switch {
	case strings.HasPrefix(name, presencePrefix):
		return ChannelPresence
	case strings.HasPrefix(name, privatePrefix):
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

// IsRestricted reports whether joining a channel of this class requires an
// authorization grant.
func (t ChannelType) IsRestricted() bool {
	return t == ChannelPrivate || t == ChannelPresence
}
