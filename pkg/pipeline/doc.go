// Package pipeline is the single entry point for inbound calls. Every
// operation passes the same stages in the same order and the first failure
// ends the call:
//
//  1. credential verification, optional session validation and first-contact
//     provisioning of the principal
//  2. rate limit admission by the principal's tier and origin address
//  3. the operation's system role allowlist
//  4. project resolution, from the request for reads and from the stored
//     record for mutations
//  5. project membership and the membership's access window
//  6. each declared module permission
//  7. the handler, which receives a SecurityContext and builds tenant scoped
//     repositories from it
//
// Failures are converted to a Response here and nowhere else. Tenant
// mismatches surface as not found, internal messages are hidden outside
// development, and authentication or authorization failures are written to
// the security audit channel.
package pipeline
