// Package auth provides sign-in, session management and account lifecycle
// for the Lightbox admin portal.
//
// # Overview
//
// Accounts sign in with a password, a passkey or (optionally) an external
// OpenID Connect provider. Accounts with two-factor authentication enabled
// must complete a TOTP or recovery code challenge before a session is issued.
// New accounts are onboarded through emailed invitations; forgotten passwords
// are recovered through emailed reset links.
//
// # Tokens
//
// Every secret handed to a client has the form <prefix><base64url(32 bytes)>
// and only its SHA-256 hex digest is persisted:
//
//	lbs_  session token (cookie or Bearer)
//	lbi_  invitation token
//	lbr_  password reset token
//	lbc_  challenge token (MFA, TOTP enrollment, passkey ceremonies, OIDC state)
//
// # Password sign-in
//
//	svc := auth.NewService(auth.NewStore(db), auth.NewMemoryChallengeStore(time.Minute), auth.DefaultConfig())
//	res, err := svc.Login(ctx, "alice", password, meta)
//	if res.Challenge != nil {
//		issued, err = svc.VerifyMFA(ctx, res.Challenge.ID, code, meta)
//	}
//
// # Challenge stores
//
// MemoryChallengeStore suits a single server; RedisChallengeStore shares
// pending challenges between instances. Both refuse expired entries even
// before they are swept, and delete a challenge once its failed attempt limit
// is reached.
//
// # Passkeys
//
// Passkeys use discoverable credentials: BeginPasskeyLogin needs no username
// and the authenticator's user handle (User.WebAuthnID) identifies the account.
// A passkey sign-in satisfies two-factor authentication.
//
// # Related Packages
//
//   - pkg/middleware: resolves session tokens into a Principal
//   - pkg/notifications: implements Mailer
//   - pkg/audit: records authentication events
package auth
