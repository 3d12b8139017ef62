package domain

import (
	"fmt"
	"slices"
	"strings"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state assigned at checkout.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed marks an order accepted by staff.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing marks an order being prepared.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// nominal lifecycle; administrative updates are not checked against it.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// ParseOrderStatus converts raw input into an OrderStatus, rejecting unknown values.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if candidate == "CANCELED" {
		candidate = OrderStatusCancelled
	}
	if !candidate.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return candidate, nil
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return slices.Clone(orderStatuses)
}

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	return slices.Contains(orderStatuses, s)
}

// IsTerminal reports whether no further transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether next follows s in the nominal lifecycle.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return slices.Contains(orderTransitions[s], next)
}

// Role enumerates the principal roles supplied by the identity provider.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
	RoleSupervisor Role = "SUPERVISOR"
)

// ParseRole normalises a role claim. A ROLE_ prefix is accepted.
func ParseRole(raw string) (Role, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "ROLE_")
	switch Role(value) {
	case RoleAdmin, RoleUser, RoleSupervisor:
		return Role(value), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Privileged reports whether the role may manage orders of other users.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSupervisor
}
