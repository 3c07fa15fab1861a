//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// reelauth.AccountStore. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Account: the account record, keyed by account id
//   - AccountEmail: keyed by normalized email, points at the account id
//   - ProviderLink: keyed by provider:subject, points at the account id
//
// Datastore has no secondary unique indexes, so the AccountEmail entity is
// the uniqueness constraint: it is read and written in the same transaction
// that creates the account.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	accounts := gae.NewAccountStore(client, "") // default namespace
package gae
