// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package core

import "context"

// The interfaces below name the boundary between the license authority
// engine and its out-of-scope collaborators: the embedded HTTP server that
// vends licenses, the optional GUI prompt, the command-line front end, the
// org-mode template renderer, and cryptocurrency payment integration. The
// engine declares what it expects of each; none is implemented here.

// LicenseVendor is implemented by the embedded HTTP server (or any other
// transport) that hands signed licenses to agents. It is the network-facing
// counterpart of Issuer/Verifier; this package specifies no wire framing for
// it, per the engine's non-goals.
type LicenseVendor interface {
	// IssueFor returns a newly issued, signed license for clientVK under
	// the given grants, or an error from the Issuer.
	IssueFor(ctx context.Context, clientVK []byte, grants map[string]Grant) (SignedLicense, error)

	// Revoke is intentionally absent: the engine has no revocation model.
}

// InteractiveConfirmer is implemented by the optional GUI prompt (or a CLI
// front end's own prompt) asked to confirm issuance of a bearer license,
// per Issuer precondition 4.
type InteractiveConfirmer interface {
	// ConfirmBearerIssuance asks a human whether to proceed issuing a
	// license with no Client. noConfirm, if true, skips the prompt.
	ConfirmBearerIssuance(ctx context.Context, author Author, noConfirm bool) (bool, error)
}

// TemplateRenderer is implemented by the org-mode text templates shown to
// end users describing a license's grants in human language.
type TemplateRenderer interface {
	Render(license SignedLicense, effectiveGrant map[string]Grant) (string, error)
}

// PaymentGateway is implemented by the cryptocurrency payment integration
// that precedes issuance of a paid license. The engine neither calls nor
// depends on it; it is named here only so embedding hosts have a documented
// seam to implement against.
type PaymentGateway interface {
	Charge(ctx context.Context, author Author, grants map[string]Grant) (receipt string, err error)
}
