//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of reelauth.AccountStore.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - accounts: one row per account, unique index on the normalized email
//   - provider_links: (provider, subject) primary key pointing at an account
//
// Email uniqueness is enforced by the unique index, so two concurrent
// registrations for the same address cannot both commit.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	accounts := gormstore.NewAccountStore(db)
package gorm
