// Package fingerprint resolves stored fingerprint configurations into
// concrete browser identities.
//
// A resolution combines a named preset from the catalogue with optional
// per-account overrides. Timezone, locale and languages are stable for
// the same input. User agent, geolocation jitter, screen, hardware and
// WebGL profile are drawn at random within the preset bounds so that two
// sessions of the same account do not look byte-identical.
//
// Unknown preset names fall back to DefaultPreset instead of failing.
//
// # Usage
//
//	r := fingerprint.NewResolver()
//	id := r.Resolve(account.Fingerprint)
//	scripts := fingerprint.InitScripts(id)
package fingerprint
