// Package natours provides the authentication and user management core of
// the natours API: password hashing, JWT issuance, reset tokens, the users
// repository and the HTTP handlers mounted under /api/v1/users.
//
// Auth flows:
//   - Signup, Login, ForgotPassword, ResetPassword, UpdatePassword,
//     UpdateMe and DeleteMe are command handlers over an Auther. Every flow
//     that signs a user in goes through Auther.IssueToken.
//   - Tokens become stale once the password changes. Authenticate compares
//     the token iat with password_changed_at in milliseconds.
//   - Reset tokens are 32 random bytes sent in plaintext by email. Only the
//     SHA-256 digest and a ten minute expiry are stored.
//
// Route guards:
//   - RouteGuard.Protect resolves the bearer token to an active user and
//     stores it in the router locals and the request context.
//   - RouteGuard.RestrictTo runs after Protect and rejects roles that are
//     not listed.
//
// Activity sinks:
//   - ActivitySink receives login, signup, reset and authorization events.
//     Sinks run best effort, errors are logged and never fail a request.
package natours
