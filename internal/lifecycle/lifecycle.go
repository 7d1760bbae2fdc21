// Package lifecycle orchestrates the inbound half of a permission request's
// life: creation with validation, and hand-off to the permission
// administrator for authorization.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eddie.energy/internal/authz"
	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/obs"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
)

// CreationRequest is an inbound request from a connected application to
// obtain a data-sharing permission.
type CreationRequest struct {
	ConnectionID    string
	DataNeedID      string
	MeteringPointID string
	CustomerID      string
	Start, End      time.Time
	Granularity     dataneed.Granularity
	EnergyType      dataneed.EnergyType
}

// Service drives creation and administrator hand-off.
type Service struct {
	needs  dataneed.Service
	outbox *outbox.Outbox
	authz  *authz.Manager
	newID  func() string
	now    func() time.Time
}

// NewService wires the lifecycle service. authz may be nil for regions whose
// administrator hand-off happens out of band.
func NewService(needs dataneed.Service, ob *outbox.Outbox, az *authz.Manager) *Service {
	return &Service{
		needs:  needs,
		outbox: ob,
		authz:  az,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDs overrides permission id generation; used by tests.
func (s *Service) WithIDs(newID func() string) *Service {
	s.newID = newID
	return s
}

// Create records a new permission request and validates it against its data
// need. The need is resolved first: an unknown dataNeedId fails the call with
// dataneed.ErrNotFound and no request comes into existence. Once the need is
// resolved the request is always created; validation failures against the
// need land it in MALFORMED rather than rejecting the call, so the connected
// application can observe why through the status stream.
func (s *Service) Create(ctx context.Context, req CreationRequest) (string, error) {
	need, err := s.needs.GetByID(ctx, req.DataNeedID)
	if err != nil {
		return "", fmt.Errorf("resolve data need %s: %w", req.DataNeedID, err)
	}

	permissionID := s.newID()

	if err := s.outbox.Commit(ctx, permission.Created{
		ID:              permissionID,
		ConnectionID:    req.ConnectionID,
		DataNeedID:      req.DataNeedID,
		MeteringPointID: req.MeteringPointID,
		CustomerID:      req.CustomerID,
	}); err != nil {
		return "", err
	}

	attrs := dataneed.CreationAttributes{
		EnergyType:  req.EnergyType,
		Granularity: req.Granularity,
		Start:       req.Start,
		End:         req.End,
	}
	if errs := dataneed.ValidateCreation(need, attrs, s.now()); len(errs) > 0 {
		obs.LogEvent("lifecycle.malformed", map[string]any{
			"permission_id": permissionID,
			"errors":        len(errs),
		})
		if err := s.outbox.Commit(ctx, permission.Malformed{ID: permissionID, Errors: errs}); err != nil {
			return permissionID, err
		}
		return permissionID, nil
	}

	if err := s.outbox.Commit(ctx, permission.Validated{
		ID:          permissionID,
		Start:       req.Start,
		End:         req.End,
		Granularity: req.Granularity,
		EnergyType:  need.EnergyType,
	}); err != nil {
		return permissionID, err
	}
	return permissionID, nil
}

// RequestAuthorization marks a validated request as sent to the permission
// administrator and returns the consent URL the final customer must visit.
func (s *Service) RequestAuthorization(ctx context.Context, permissionID string) (string, error) {
	if s.authz == nil {
		return "", fmt.Errorf("no authorization flow configured")
	}
	url, err := s.authz.AuthorizationURL(permissionID)
	if err != nil {
		// Nothing was sent; the request stays VALIDATED and the timeout
		// sweep expires it if the caller never retries.
		return "", err
	}
	if err := s.outbox.Commit(ctx, permission.StatusChanged{
		ID:     permissionID,
		Status: permission.StatusSentToPermissionAdmin,
	}); err != nil {
		return "", err
	}
	return url, nil
}
