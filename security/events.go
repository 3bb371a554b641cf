package security

// Audit actions. Records store these verbatim in the action column, so
// renaming one breaks existing reports.
const (
	// Authentication

	EventLogin         = "LOGIN"
	EventLogout        = "LOGOUT"
	EventLoginFailed   = "LOGIN_FAILED"
	EventRegister      = "REGISTER"
	EventTokenRefresh  = "TOKEN_REFRESH"
	EventPasswordReset = "PASSWORD_RESET"

	// Single sign-on

	EventSSOLogin         = "SSO_LOGIN"
	EventSSOLoginFailed   = "SSO_LOGIN_FAILED"
	EventSSOConfigUpdated = "SSO_CONFIG_UPDATED"

	// Two-factor authentication

	Event2FAEnabled             = "2FA_ENABLED"
	Event2FADisabled            = "2FA_DISABLED"
	Event2FAVerified            = "2FA_VERIFIED"
	Event2FAFailed              = "2FA_FAILED"
	EventBackupCodeUsed         = "BACKUP_CODE_USED"
	EventBackupCodesRegenerated = "BACKUP_CODES_REGENERATED"

	// Billing

	EventSubscriptionCreated  = "SUBSCRIPTION_CREATED"
	EventSubscriptionUpdated  = "SUBSCRIPTION_UPDATED"
	EventSubscriptionCanceled = "SUBSCRIPTION_CANCELED"
	EventPaymentSucceeded     = "PAYMENT_SUCCEEDED"
	EventPaymentFailed        = "PAYMENT_FAILED"

	// White-label configuration

	EventWhiteLabelUpdated = "WHITE_LABEL_UPDATED"
	EventCustomDomainSet   = "CUSTOM_DOMAIN_SET"
	EventBrandingReset     = "BRANDING_RESET"

	// Security

	EventPasswordChanged    = "PASSWORD_CHANGED"
	EventAccountLocked      = "ACCOUNT_LOCKED"
	EventAccountUnlocked    = "ACCOUNT_UNLOCKED"
	EventSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	EventRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"

	// Administration

	EventUserInvited    = "USER_INVITED"
	EventUserRemoved    = "USER_REMOVED"
	EventRoleChanged    = "ROLE_CHANGED"
	EventCompanyUpdated = "COMPANY_UPDATED"
	EventAPIKeyCreated  = "API_KEY_CREATED"
	EventAPIKeyRevoked  = "API_KEY_REVOKED"

	// Generic

	EventAPICall = "API_CALL"
	EventError   = "ERROR"
)

// DataOp is the kind of data access recorded by LogDataAccess
type DataOp string

const (
	DataView   DataOp = "view"
	DataCreate DataOp = "create"
	DataUpdate DataOp = "update"
	DataDelete DataOp = "delete"
	DataExport DataOp = "export"
)

// Action returns the audit action for op, e.g. DATA_EXPORT
func (op DataOp) Action() string {
	switch op {
	case DataView:
		return "DATA_VIEW"
	case DataCreate:
		return "DATA_CREATE"
	case DataUpdate:
		return "DATA_UPDATE"
	case DataDelete:
		return "DATA_DELETE"
	case DataExport:
		return "DATA_EXPORT"
	default:
		return "DATA_ACCESS"
	}
}
