package domain

// IdentityKey is the key used to match a record across polls: the first
// non-empty of id, number, Q-line and summary. Ids minted from a payload
// ordinal shift when upstream reorders items, which surfaces as a removal
// plus an addition.
func IdentityKey(n Notam) string {
	switch {
	case n.ID != "":
		return n.ID
	case n.Number != "":
		return n.Number
	case n.QLine != "":
		return n.QLine
	}
	return n.Summary
}

// KeySet returns the identity keys of records.
func KeySet(records []Notam) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for _, n := range records {
		keys[IdentityKey(n)] = struct{}{}
	}
	return keys
}

// Diff reports records in curr whose key is absent from prev (Added) and
// records in prev whose key is absent from curr (Removed). Both preserve the
// input order. A record whose text changes between polls surfaces as a
// removal plus an addition.
func Diff(prev, curr []Notam) ChangeSet {
	return DiffKeyed(prev, KeySet(prev), curr)
}

// DiffKeyed is Diff with the key set of prev already computed.
func DiffKeyed(prev []Notam, prevKeys map[string]struct{}, curr []Notam) ChangeSet {
	currKeys := KeySet(curr)

	var cs ChangeSet
	for _, n := range curr {
		if _, ok := prevKeys[IdentityKey(n)]; !ok {
			cs.Added = append(cs.Added, n)
		}
	}
	for _, n := range prev {
		if _, ok := currKeys[IdentityKey(n)]; !ok {
			cs.Removed = append(cs.Removed, n)
		}
	}
	return cs
}
