// Package identity turns a presented bearer credential into the canonical,
// store-backed identity of a driver or passenger.
package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Identity is the per-connection user context. It is never persisted.
type Identity struct {
	Role        models.Role
	UserID      string
	Name        string
	Phone       string
	VehicleType string
	Vehicle     models.Vehicle
	// Credential is kept to call collaborator services on the user's behalf.
	Credential string
}

type Resolver struct {
	Verifier  *Verifier
	Directory storage.Directory
	Profiles  ProfileClient // optional
	Logger    *slog.Logger
}

func NewResolver(v *Verifier, dir storage.Directory, profiles ProfileClient, logger *slog.Logger) *Resolver {
	return &Resolver{Verifier: v, Directory: dir, Profiles: profiles, Logger: logging.Component(logger, "identity")}
}

type lookup struct {
	field storage.Field
	value string
}

func lookups(c Claims) []lookup {
	return []lookup{
		{storage.FieldID, c.ID},
		{storage.FieldExternalID, c.ExternalID},
		{storage.FieldPhone, c.Phone},
		{storage.FieldEmail, c.Email},
	}
}

// Resolve verifies raw and maps it to an Identity. Every failure is an
// Authentication error; the caller must drop the connection.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Identity, error) {
	claims, err := r.Verifier.Verify(raw)
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	switch claims.Role {
	case models.RoleDriver:
		id, err = r.resolveDriver(ctx, claims, raw)
	case models.RolePassenger:
		id, err = r.resolvePassenger(ctx, claims)
	}
	if err != nil {
		return Identity{}, err
	}
	if id.UserID == "" {
		return Identity{}, apperr.Unauthenticated("credential carries no usable id", nil)
	}
	id.Credential = raw
	return id, nil
}

func (r *Resolver) resolveDriver(ctx context.Context, c Claims, raw string) (Identity, error) {
	id := Identity{Role: models.RoleDriver, UserID: c.ID, Name: c.Name, Phone: c.Phone}
	for _, l := range lookups(c) {
		if l.value == "" {
			continue
		}
		d, err := r.Directory.FindDriver(ctx, l.field, l.value)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Identity{}, apperr.Unauthenticated("identity lookup failed", err)
		}
		id.UserID = d.ID
		id.Name = firstNonEmpty(d.Name, c.Name)
		id.Phone = firstNonEmpty(d.Phone, c.Phone)
		id.VehicleType = d.VehicleType
		id.Vehicle = d.Vehicle
		break
	}
	if id.UserID != "" && (id.VehicleType == "" || id.Vehicle.Empty()) {
		r.hydrate(ctx, &id, raw)
	}
	return id, nil
}

// hydrate fills missing vehicle descriptors from the profile service.
// Failures leave the descriptors empty.
func (r *Resolver) hydrate(ctx context.Context, id *Identity, raw string) {
	if r.Profiles == nil {
		return
	}
	p, err := r.Profiles.DriverProfile(ctx, id.UserID, raw)
	if err != nil {
		r.Logger.Warn("driver_profile_hydration_failed", "driver_id", id.UserID, "error", err)
		return
	}
	if id.VehicleType == "" {
		id.VehicleType = p.VehicleType
	}
	if id.Vehicle.Empty() {
		id.Vehicle = p.Vehicle
	}
	id.Name = firstNonEmpty(id.Name, p.Name)
	id.Phone = firstNonEmpty(id.Phone, p.Phone)
}

func (r *Resolver) resolvePassenger(ctx context.Context, c Claims) (Identity, error) {
	id := Identity{Role: models.RolePassenger, UserID: c.ID, Name: c.Name, Phone: c.Phone}
	for _, l := range lookups(c) {
		if l.value == "" {
			continue
		}
		p, err := r.Directory.FindPassenger(ctx, l.field, l.value)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Identity{}, apperr.Unauthenticated("identity lookup failed", err)
		}
		id.UserID = p.ID
		id.Name = firstNonEmpty(p.Name, c.Name)
		id.Phone = firstNonEmpty(p.Phone, c.Phone)
		break
	}
	return id, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
