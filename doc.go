// Package identity implements an identity and access-control core: it
// authenticates principals, issues signed session tokens, enforces a
// role/claim permission model, and manages account lifecycle events
// (registration, confirmation, password change, ban/unban, deletion).
//
// The package owns no storage. Durable state lives behind the
// CredentialStore and RoleStore collaborator interfaces, and outbound mail
// behind Notifier, so hosts can plug in their own persistence and delivery
// (a Bun-backed implementation ships in adapters/bunstore).
//
// Components:
//   - Authenticator runs the login state machine: credential check,
//     ban/lockout/confirmation gating, and progressive lockout backoff.
//   - TokenService mints and validates HS256 session tokens aggregating a
//     user's roles and their deduplicated claim set.
//   - Registry enforces the role-name whitelist and claim uniqueness
//     invariants over role/claim CRUD.
//   - Accounts drives lifecycle operations and permission-gated
//     administrative actions such as ban/unban.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Authenticator and
//     Accounts to describe login, lockout, registration, and ban events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking authentication.
package identity
