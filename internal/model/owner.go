package model

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
)

// OwnerKind tags which identity an Owner carries.
type OwnerKind uint8

const (
	ownerNone OwnerKind = iota
	OwnerAccount
	OwnerGuest
)

// String returns the storage spelling of the kind.
func (k OwnerKind) String() string {
	switch k {
	case OwnerAccount:
		return "account"
	case OwnerGuest:
		return "guest"
	}
	return "none"
}

// Owner is exactly one of an account or a guest session.
// The zero value is invalid; build owners with AccountOwner or GuestOwner.
type Owner struct {
	kind OwnerKind
	id   uuid.UUID
}

// AccountOwner returns an owner for a registered account.
func AccountOwner(id uuid.UUID) (Owner, error) {
	if id == uuid.Nil {
		return Owner{}, fmt.Errorf("account owner: %w", errs.ErrInvalidOwner)
	}
	return Owner{kind: OwnerAccount, id: id}, nil
}

// GuestOwner returns an owner for an anonymous guest session.
func GuestOwner(id uuid.UUID) (Owner, error) {
	if id == uuid.Nil {
		return Owner{}, fmt.Errorf("guest owner: %w", errs.ErrInvalidOwner)
	}
	return Owner{kind: OwnerGuest, id: id}, nil
}

// OwnerFromColumns rebuilds an owner from the nullable user_id / guest_session_id pair.
// Exactly one must be set.
func OwnerFromColumns(accountID, guestID uuid.NullUUID) (Owner, error) {
	switch {
	case accountID.Valid && !guestID.Valid:
		return AccountOwner(accountID.UUID)
	case guestID.Valid && !accountID.Valid:
		return GuestOwner(guestID.UUID)
	}
	return Owner{}, fmt.Errorf("owner columns: %w", errs.ErrInvalidOwner)
}

// Kind returns the variant tag.
func (o Owner) Kind() OwnerKind { return o.kind }

// ID returns the identifier of whichever variant is set.
func (o Owner) ID() uuid.UUID { return o.id }

// AccountID returns the account id if the owner is an account.
func (o Owner) AccountID() (uuid.UUID, bool) {
	if o.kind != OwnerAccount {
		return uuid.Nil, false
	}
	return o.id, true
}

// GuestID returns the guest session id if the owner is a guest.
func (o Owner) GuestID() (uuid.UUID, bool) {
	if o.kind != OwnerGuest {
		return uuid.Nil, false
	}
	return o.id, true
}

// Columns splits the owner into the nullable user_id / guest_session_id pair.
func (o Owner) Columns() (accountID, guestID uuid.NullUUID) {
	switch o.kind {
	case OwnerAccount:
		accountID = uuid.NullUUID{UUID: o.id, Valid: true}
	case OwnerGuest:
		guestID = uuid.NullUUID{UUID: o.id, Valid: true}
	}
	return accountID, guestID
}

// Validate returns ErrInvalidOwner unless exactly one identity is set.
func (o Owner) Validate() error {
	if (o.kind != OwnerAccount && o.kind != OwnerGuest) || o.id == uuid.Nil {
		return errs.ErrInvalidOwner
	}
	return nil
}

// Equal reports whether both owners name the same identity.
func (o Owner) Equal(other Owner) bool { return o.kind == other.kind && o.id == other.id }

func (o Owner) String() string { return o.kind.String() + ":" + o.id.String() }
