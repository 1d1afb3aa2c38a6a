// Package auth provides passcode verified signup and password login
// (account storage, a one time passcode ledger, JWT issuance, HTTP handlers)
// plus extension points for delivery and auditing.
//
// Verification flow:
//   - An identity (normalized email) is either unknown, pending verification,
//     or verified. RequestSignup stores the hashed password and profile in the
//     passcode ledger and hands a fresh passcode to the PasscodeDispatcher.
//     The account row is only created once VerifyOtp redeems that passcode.
//   - Ledger entries are keyed by identity. Every issuance gets a new entry id,
//     verification consumes the exact entry it read, so concurrent redemptions
//     of one passcode produce a single account.
//   - Failed comparisons count against the entry. Past the configured limit
//     the entry stays locked until a new signup replaces it.
//
// Delivery:
//   - DeliveryDispatcher runs notifiers inline or on a worker pool. SMTP
//     delivery renders an embedded django template, LogNotifier is meant for
//     local development.
//   - Sweeper removes expired entries in the background, reads already
//     treat expired entries as missing.
//
// Activity sinks:
//   - ActivitySink receives signup, passcode, verification and login events.
//     Sinks run best-effort (errors are logged) and never see passcodes.
package auth
