// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package point

// VerdictKind is the closed set of validation outcomes a point may
// settle to. It forms two partial orders: signability (only Trusted is
// signable) and quorum-countability (Trusted and Suspicious count,
// the rest never do).
type VerdictKind uint8

const (
	// Unknown is the zero value and never appears in a settled DagPoint.
	Unknown VerdictKind = iota
	// Trusted points are well-formed, correctly signed, and every
	// dependency resolved to at least Suspicious.
	Trusted
	// Suspicious points are otherwise valid but were seen equivocated by
	// their author; they count toward quorum but this node will not
	// sign them.
	Suspicious
	// Invalid points failed a BFT admission rule (bad evidence count,
	// unresolved anchor link, dependency that is itself Invalid/IllFormed).
	Invalid
	// IllFormed points failed structural or signature checks before any
	// dependency was even examined.
	IllFormed
	// NotFound means the downloader exhausted its peer set without
	// retrieving the point.
	NotFound
)

func (k VerdictKind) String() string {
	switch k {
	case Trusted:
		return "Trusted"
	case Suspicious:
		return "Suspicious"
	case Invalid:
		return "Invalid"
	case IllFormed:
		return "IllFormed"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Signable reports whether a point with this verdict may be signed by
// this node. Only Trusted is signable; Suspicious points count toward
// quorum but are never signed, per the equivocation handling rule.
func (k VerdictKind) Signable() bool {
	return k == Trusted
}

// QuorumCountable reports whether a point with this verdict may be
// counted toward 2F+1/F+1 quorum thresholds (as an include, witness, or
// evidence signer).
func (k VerdictKind) QuorumCountable() bool {
	return k == Trusted || k == Suspicious
}

// Reachability carries the causal-history bookkeeping the committer
// needs once a point is known valid: the set of anchor candidates it
// transitively proves or triggers. Populated during validate.
type Reachability struct {
	// AnchorProofRound is the round the point's anchor_proof link
	// resolves to (== point's own round for a ToSelf link).
	AnchorProofRound Round
	// AnchorTriggerRound is the round the point's anchor_trigger link
	// resolves to.
	AnchorTriggerRound Round
}

// ValidPoint pairs a structurally and cryptographically valid point
// with the reachability info the committer needs, without yet judging
// whether it is Trusted or merely Suspicious.
type ValidPoint struct {
	Point        *Point
	Reachability Reachability
}

// DagPoint is the settled verdict for one version at a DAG location: a
// tagged union of {Trusted(valid), Suspicious(valid), Invalid,
// IllFormed, NotFound}. The zero value is not a valid DagPoint; use the
// constructors.
type DagPoint struct {
	kind  VerdictKind
	valid *ValidPoint
}

// TrustedPoint constructs a Trusted verdict.
func TrustedPoint(v ValidPoint) DagPoint { return DagPoint{kind: Trusted, valid: &v} }

// SuspiciousPoint constructs a Suspicious verdict.
func SuspiciousPoint(v ValidPoint) DagPoint { return DagPoint{kind: Suspicious, valid: &v} }

// InvalidPoint constructs an Invalid verdict.
func InvalidPoint() DagPoint { return DagPoint{kind: Invalid} }

// IllFormedPoint constructs an IllFormed verdict.
func IllFormedPoint() DagPoint { return DagPoint{kind: IllFormed} }

// NotFoundPoint constructs a NotFound verdict.
func NotFoundPoint() DagPoint { return DagPoint{kind: NotFound} }

// Kind returns the verdict's tag.
func (d DagPoint) Kind() VerdictKind { return d.kind }

// Valid returns the underlying ValidPoint and true when the verdict is
// Trusted or Suspicious; otherwise it returns the zero value and false.
func (d DagPoint) Valid() (ValidPoint, bool) {
	if d.valid == nil {
		return ValidPoint{}, false
	}
	return *d.valid, true
}

// Signable reports whether this settled verdict may be signed.
func (d DagPoint) Signable() bool { return d.kind.Signable() }

// QuorumCountable reports whether this settled verdict counts toward
// quorum thresholds.
func (d DagPoint) QuorumCountable() bool { return d.kind.QuorumCountable() }
