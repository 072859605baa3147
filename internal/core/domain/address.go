package domain

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

type AddressRole string

const (
	AddressRoleBilling  AddressRole = "billing"
	AddressRoleShipping AddressRole = "shipping"
)

func (r AddressRole) Valid() bool {
	return r == AddressRoleBilling || r == AddressRoleShipping
}

// AddressFields is the payload a buyer submits with an order.
type AddressFields struct {
	FullName   string `json:"full_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Contact    string `json:"contact"`
	Email      string `json:"email"`
}

// Address is unique per (BuyerID, Role).
type Address struct {
	ID      string
	BuyerID string
	Role    AddressRole
	AddressFields
	UpdatedAt time.Time
}

// Validate checks presence and the column widths of the addresses table.
func (f AddressFields) Validate(prefix string) error {
	fields := []struct {
		name   string
		value  string
		maxLen int
	}{
		{"full_name", f.FullName, 200},
		{"address", f.Address, 500},
		{"city", f.City, 100},
		{"postal_code", f.PostalCode, 32},
		{"country", f.Country, 100},
		{"contact", f.Contact, 32},
		{"email", f.Email, 255},
	}
	for _, fd := range fields {
		if strings.TrimSpace(fd.value) == "" {
			return NewValidationError(prefix+"."+fd.name, "is required")
		}
		if utf8.RuneCountInString(fd.value) > fd.maxLen {
			return NewValidationError(prefix+"."+fd.name, "must be at most "+itoa(fd.maxLen)+" characters")
		}
	}
	if _, err := mail.ParseAddress(f.Email); err != nil {
		return NewValidationError(prefix+".email", "is not a valid email address")
	}
	return nil
}
