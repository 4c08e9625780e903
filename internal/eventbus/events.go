package eventbus

import (
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// Event is one of NewSqueak, NewSecretKey, NewReceivedOffer,
// NewReceivedPayment or UpdateSubscriptions.
type Event interface {
	isEvent()
}

type NewSqueak struct {
	Squeak squeak.Squeak
}

type NewSecretKey struct {
	Squeak    squeak.Squeak
	SecretKey squeak.SecretKey
}

type NewReceivedOffer struct {
	Offer models.ReceivedOffer
}

type NewReceivedPayment struct {
	Payment models.ReceivedPayment
}

// UpdateSubscriptions asks downloaders to recompute their interest set.
type UpdateSubscriptions struct{}

// closed is the poison pill placed on a queue when its subscription stops.
type closed struct{}

func (NewSqueak) isEvent()           {}
func (NewSecretKey) isEvent()        {}
func (NewReceivedOffer) isEvent()    {}
func (NewReceivedPayment) isEvent()  {}
func (UpdateSubscriptions) isEvent() {}
func (closed) isEvent()              {}
