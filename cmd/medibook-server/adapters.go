package main

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/domain/inbox"
	"github.com/medibook/medibook/internal/domain/scheduling"
)

// doctorDirectory exposes identity doctor profiles to the booking core
// without the scheduling package importing identity.
type doctorDirectory struct {
	svc *identity.Service
}

func toDoctorRef(d *identity.Doctor, err error) (*scheduling.DoctorRef, error) {
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, scheduling.ErrNotFound
		}
		return nil, err
	}
	return &scheduling.DoctorRef{ID: d.ID, UserID: d.UserID, Name: d.Name}, nil
}

func (a doctorDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*scheduling.DoctorRef, error) {
	return toDoctorRef(a.svc.GetDoctor(ctx, id))
}

func (a doctorDirectory) DoctorForUser(ctx context.Context, userID uuid.UUID) (*scheduling.DoctorRef, error) {
	return toDoctorRef(a.svc.DoctorForUser(ctx, userID))
}

// inboxNotifier writes lifecycle notifications through the inbox service.
type inboxNotifier struct {
	svc *inbox.Service
}

func (n inboxNotifier) Notify(ctx context.Context, userID uuid.UUID, title, message string) error {
	_, err := n.svc.Notify(ctx, userID, title, message)
	return err
}
