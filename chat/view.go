package chat

import "github.com/whisprlabs/whispr/server/model"

// MessageView is a message joined with the sender and recipient profile
// projections. It is both the REST response shape and the realtime payload,
// so a subscriber renders a delivered row without a second lookup.
type MessageView struct {
	model.Message
	Sender    model.ProfileRef `json:"sender"`
	Recipient model.ProfileRef `json:"recipient"`
}
