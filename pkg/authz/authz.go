// Package authz implements the call authorization decision table: given a
// caller's metadata and the configured mode, decide whether the call is
// allowed, and emit a machine-readable strategy token alongside the verdict.
package authz

import (
	"strings"

	"github.com/voicebridge/core/pkg/config"
	"github.com/voicebridge/core/pkg/wire"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Authorized bool
	Reason     string
	Strategy   string
}

func deny(strategy, reason string) Decision {
	return Decision{Authorized: false, Reason: reason, Strategy: strategy}
}

func allow(strategy string) Decision {
	return Decision{Authorized: true, Strategy: strategy}
}

// Authorize evaluates metadata against cfg's authorization mode, per the
// decision table: disabled mode rejects unconditionally; the PSTN gate
// rejects any non-empty phoneNumber call when allow-pstn is false,
// regardless of mode; callers missing either tenantId or userId always
// fail validation, PSTN or not; the remaining modes decide on
// tenantId/userId.
func Authorize(metadata wire.CallMetadata, cfg config.AuthorizationConfig) Decision {
	if cfg.Mode == config.AuthModeDisabled {
		return deny("disabled", "authorization is disabled; all calls are rejected")
	}

	if metadata.PhoneNumber != "" && !cfg.AllowPSTN {
		return deny("pstn-blocked", "PSTN calls are not permitted")
	}

	if metadata.TenantID == "" || metadata.UserID == "" {
		return deny("validation-failed", "call is missing tenantId/userId")
	}

	switch cfg.Mode {
	case config.AuthModeOpen:
		return allow("open")
	case config.AuthModeAllowlist:
		userID := strings.ToLower(metadata.UserID)
		upn := strings.ToLower(metadata.UserPrincipalName)
		for _, allowed := range cfg.AllowFrom {
			allowed = strings.ToLower(allowed)
			if allowed == userID || (upn != "" && allowed == upn) {
				return allow("allowlist")
			}
		}
		return deny("allowlist", "caller is not on the allowlist")
	case config.AuthModeTenantOnly:
		for _, tenant := range cfg.AllowedTenants {
			if tenant == metadata.TenantID {
				return allow("tenant-only")
			}
		}
		return deny("tenant-only", "caller's tenant is not allowed")
	default:
		return deny("validation-failed", "authorization mode is not recognized")
	}
}
