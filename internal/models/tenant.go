package models

import (
	"errors"
	"fmt"
)

// ErrInvalidScope is returned when a scope names neither a brand nor a client.
var ErrInvalidScope = errors.New("tenant scope requires a brand_id or client_id")

// TenantScope identifies who a metric row belongs to. A property may be
// shared by several clients, so PropertyID alone is not an address.
type TenantScope struct {
	BrandID    *int64 `json:"brand_id"`
	ClientID   *int64 `json:"client_id"`
	PropertyID string `json:"property_id"`
}

// ClientScope builds a client-keyed scope.
func ClientScope(clientID int64, brandID *int64, propertyID string) TenantScope {
	return TenantScope{BrandID: brandID, ClientID: &clientID, PropertyID: propertyID}
}

// BrandScope builds a legacy brand-keyed scope.
func BrandScope(brandID int64, propertyID string) TenantScope {
	return TenantScope{BrandID: &brandID, PropertyID: propertyID}
}

// Validate checks the scope invariant.
func (s TenantScope) Validate() error {
	if s.BrandID == nil && s.ClientID == nil {
		return ErrInvalidScope
	}
	return nil
}

// Ref renders a short tenant reference for logs and notifications.
func (s TenantScope) Ref() string {
	switch {
	case s.ClientID != nil:
		return fmt.Sprintf("client:%d", *s.ClientID)
	case s.BrandID != nil:
		return fmt.Sprintf("brand:%d", *s.BrandID)
	}
	return ""
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// EqualID compares two optional ids.
func EqualID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
