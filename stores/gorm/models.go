//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ra "github.com/panyam/reelauth"
)

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID             string              `gorm:"primaryKey;size:64"`
	Email          string              `gorm:"size:320;not null;uniqueIndex"`
	PasswordDigest *string             `gorm:"size:128"`
	Links          []ProviderLinkModel `gorm:"foreignKey:AccountID"`
	CreatedAt      time.Time           `gorm:"autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *ra.Account {
	out := &ra.Account{
		ID:             m.ID,
		Email:          m.Email,
		PasswordDigest: m.PasswordDigest,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, l := range m.Links {
		out.Providers = append(out.Providers, ra.ProviderLink{Provider: ra.Provider(l.Provider), Subject: l.Subject})
	}
	return out
}

// ProviderLinkModel is the GORM model for external provider links
type ProviderLinkModel struct {
	Provider  string    `gorm:"primaryKey;size:32"`
	Subject   string    `gorm:"primaryKey;size:255"`
	AccountID string    `gorm:"size:64;index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ProviderLinkModel) TableName() string {
	return "provider_links"
}
