// Package auth validates the bearer tokens issued by the identity provider
// and turns their claims into the user and organization a request acts for.
//
// Tokens are HS256 JWTs signed with a shared secret. The organization
// claims (org_id, org_slug, org_name, org_email) scope every audit and
// quota call; org_email, when present, is the subscriber the quota is
// billed to.
package auth
