package rfc9110

import "strings"

// §  13.1.2.  If-None-Match
// §
// §     The "If-None-Match" header field makes the request method conditional
// §     on a recipient cache or origin server either not having any current
// §     representation of the target resource, when the field value is "*",
// §     or having a selected representation with an entity tag that does not
// §     match any of those listed in the field value.
// §
// §       If-None-Match = "*" / #entity-tag
// §
// §     A recipient MUST use the weak comparison function when comparing
// §     entity tags for If-None-Match (Section 8.8.3.2), since weak entity
// §     tags can be used for cache validation even if there have been changes
// §     to the representation data.
// §
// §     When an origin server receives a request that selects a
// §     representation and that request includes an If-None-Match header
// §     field, the origin server MUST evaluate the If-None-Match condition
// §     per Section 13.2 prior to performing the method.
// §
// §     To evaluate a received If-None-Match header field:
// §
// §     1.  If the field value is "*", the condition is false if the origin
// §         server has a current representation for the target resource.
// §
// §     2.  If the field value is a list of entity tags, the condition is
// §         false if one of the listed tags matches the entity tag of the
// §         selected representation.
// §
// §     3.  Otherwise, the condition is true.
//
// IfNoneMatchMatches reports whether the field value matches etag, i.e. whether the
// If-None-Match condition is false and the request can be answered with 304.
func IfNoneMatchMatches(fieldValue, etag string) bool {
	fieldValue = strings.TrimSpace(fieldValue)
	if fieldValue == "" {
		return false
	}
	if fieldValue == "*" {
		return true
	}
	for _, tag := range strings.Split(fieldValue, ",") {
		if weakMatch(tag, etag) {
			return true
		}
	}
	return false
}

// §     An origin server that evaluates an If-None-Match condition MUST NOT
// §     perform the requested method if the condition evaluates to false;
// §     instead, the origin server MUST respond with either a) the 304 (Not
// §     Modified) status code if the request method is GET or HEAD or b) the
// §     412 (Precondition Failed) status code for all other request methods.
