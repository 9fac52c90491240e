package domain

import (
	"fmt"
	"strings"
)

// PubType identifies the kind of push job being negotiated with the gateway.
type PubType string

const (
	PubTypeFullLoad     PubType = "Full Load"
	PubTypeExport       PubType = "Export"
	PubTypeRemove       PubType = "Remove"
	PubTypeHotfixExport PubType = "Hotfix-Export"
	PubTypeHotfixRemove PubType = "Hotfix-Remove"
)

func (p PubType) String() string { return string(p) }

func (p PubType) IsValid() bool {
	switch p {
	case PubTypeFullLoad, PubTypeExport, PubTypeRemove,
		PubTypeHotfixExport, PubTypeHotfixRemove:
		return true
	}
	return false
}

// Wire returns the pub type as the gateway expects it: the hotfix variants
// collapse to plain "Hotfix" on the wire.
func (p PubType) Wire() string {
	if strings.HasPrefix(string(p), "Hotfix") {
		return "Hotfix"
	}
	return string(p)
}

func ParsePubTypeFromString(s string) (PubType, error) {
	pt := PubType(strings.TrimSpace(s))
	if !pt.IsValid() {
		return "", fmt.Errorf("%w: invalid pub type %q", ErrValidation, s)
	}
	return pt, nil
}

// Target is the downstream stage documents are promoted to.
type Target string

const (
	TargetGateKeeper Target = "GateKeeper"
	TargetPreview    Target = "Preview"
	TargetLive       Target = "Live"
)

func (t Target) String() string { return string(t) }

func (t Target) IsValid() bool {
	switch t {
	case TargetGateKeeper, TargetPreview, TargetLive:
		return true
	}
	return false
}

func ParseTargetFromString(s string) (Target, error) {
	tg := Target(strings.TrimSpace(s))
	if !tg.IsValid() {
		return "", fmt.Errorf("%w: invalid push target %q", ErrValidation, s)
	}
	return tg, nil
}

// TransactionType says whether a document transfer adds or removes content.
type TransactionType string

const (
	TransactionExport TransactionType = "Export"
	TransactionRemove TransactionType = "Remove"
)

func (t TransactionType) String() string { return string(t) }

// DocumentRef identifies one versioned document selected for a push job.
// IsNew means the gateway does not yet have any version of the document.
type DocumentRef struct {
	ID      int
	Version int
	IsNew   bool
}

func (d DocumentRef) String() string {
	return fmt.Sprintf("%s/%d", NormalizeDocID(d.ID), d.Version)
}

// NormalizeDocID formats a document id in the canonical CDR0000000000 form.
func NormalizeDocID(id int) string {
	return fmt.Sprintf("CDR%010d", id)
}
