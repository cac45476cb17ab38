package messages

import "context"

// Unified routes guests to one store and signed-in users to another. When
// no database is configured both roles are served by the guest store.
type Unified struct {
	Users  Store
	Guests Store
}

func (u *Unified) pick(userID string) (Store, string) {
	if IsGuest(userID) || u.Users == nil {
		if userID == "" {
			userID = GuestUserID
		}
		return u.Guests, userID
	}
	return u.Users, userID
}

func (u *Unified) CreateChat(ctx context.Context, userID, firstText string) (string, error) {
	s, id := u.pick(userID)
	return s.CreateChat(ctx, id, firstText)
}

func (u *Unified) SaveMessage(ctx context.Context, userID, chatID string, m Message) error {
	s, id := u.pick(userID)
	return s.SaveMessage(ctx, id, chatID, m)
}

func (u *Unified) LoadMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	s, id := u.pick(userID)
	return s.LoadMessages(ctx, id, chatID)
}

func (u *Unified) DeleteChatIfEmpty(ctx context.Context, userID, chatID string) error {
	s, id := u.pick(userID)
	return s.DeleteChatIfEmpty(ctx, id, chatID)
}
