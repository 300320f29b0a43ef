// Package uris derives the canonical identifier of an account from its username.
package uris

import "strings"

// BaseURI prefixes every account uri.
const BaseURI = "/service/users/"

// For returns the canonical uri of username.
func For(username string) string {
	return BaseURI + username
}

// UsernameFrom returns the owner username of an account uri or of any
// resource uri nested under it. It returns "" when uri is not an account uri.
func UsernameFrom(uri string) string {
	rest, ok := strings.CutPrefix(uri, BaseURI)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
