// Package domain models NOTAMs (Notices to Airmen) and the rules that turn
// loosely-typed upstream JSON into one canonical record shape.
//
// # Upstream Text
//
// NOTAM text follows the ICAO item layout only loosely. A typical body:
//
//	Q) CZYZ/QMRLC/IV/NBO/A/000/999/4341N07937W005
//	CYYZ 2401011200 2401021800
//	E) RWY 06L/24R CLSD
//
// Lines are classified heuristically by [SplitSections]: "Q)" starts the
// Q-line, a line beginning with any four capital letters and a space is the
// location line, a run of ten or more digits is the validity line. The first
// remaining line longer than 20 characters is the primary content.
//
// # Timestamps
//
// Upstreams send ISO-8601, 10-digit YYMMDDHHmm (year 2000+YY) or 12-digit
// YYYYMMDDHHmm values. All are interpreted as UTC and rendered with
// [TimestampLayout]. Anything unparseable becomes "" (open-ended for validTo).
//
// # Classification
//
// Subject codes come from a fixed taxonomy (RW, TW, AD, SVC, AA, AC, DOM,
// INTL, AO). [Classify] tries the explicit upstream value, the Q-code (second
// slash segment of the Q-line, first two letters), then keywords in the
// summary and body. Explicit scope values (DOM, INTL) say nothing about the
// subject and only apply when the other tiers find nothing.
//
// # Identity
//
// Records are matched across polls by [IdentityKey], which prefers the id.
// Ids built from a payload ordinal are unstable, so a reordered payload
// without upstream numbers shows up as removals plus additions.
package domain
