package domain

import "errors"

// Sentinel errors classified by the concern that raises them. Callers use
// errors.Is against these, or Classify below, to pick a retry strategy.
var (
	// Session concern.
	ErrSessionClosed     = errors.New("domain: session is closed")
	ErrSessionNotReady   = errors.New("domain: no active session")
	ErrEndpointUnreachable = errors.New("domain: endpoint unreachable")
	ErrCircuitOpen       = errors.New("domain: circuit breaker is open")
	ErrKeepAliveLost     = errors.New("domain: keep-alive lost")

	// Subscription / monitored-item concern.
	ErrItemPermanentFailure = errors.New("domain: monitored item failed permanently")
	ErrItemTransientFailure = errors.New("domain: monitored item failed transiently")
	ErrSubscriptionLimitExceeded = errors.New("domain: maximum items per subscription exceeded")

	// Write-path concern.
	ErrWriteQueueFull  = errors.New("domain: write queue full, oldest entry dropped")
	ErrWriteTransient  = errors.New("domain: write failed transiently")
	ErrWritePermanent  = errors.New("domain: write failed permanently")

	// Structural concern.
	ErrRemoteNodeManagementDisabled = errors.New("domain: remote node management disabled")
	ErrAddNodesNotSupported         = errors.New("domain: server does not support AddNodes")
	ErrDeleteNodesNotSupported      = errors.New("domain: server does not support DeleteNodes")

	// Browse / loader concern.
	ErrBrowseBadStatus = errors.New("domain: browse returned a bad status code")
	ErrSubjectNotFound = errors.New("domain: subject not found")
	ErrPropertyNotFound = errors.New("domain: property not found")
)

// Kind classifies an error for retry/backoff decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindPermanent
)

// permanentMonitoredItemFailures holds the sentinel error for monitored-item
// failures that are never retried; the OPC UA status codes that count as
// such a failure are listed in itemhealth's permanentStatusCodes.
var permanentMonitoredItemFailures = map[error]struct{}{
	ErrItemPermanentFailure: {},
}

// Classify reports whether err should be retried. Session, write, and
// monitored-item errors each have their own wrapped sentinel, so a single
// errors.Is walk is enough regardless of which concern raised it.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrItemPermanentFailure),
		errors.Is(err, ErrWritePermanent),
		errors.Is(err, ErrAddNodesNotSupported),
		errors.Is(err, ErrDeleteNodesNotSupported),
		errors.Is(err, ErrRemoteNodeManagementDisabled):
		return KindPermanent
	case errors.Is(err, ErrItemTransientFailure),
		errors.Is(err, ErrWriteTransient),
		errors.Is(err, ErrEndpointUnreachable),
		errors.Is(err, ErrKeepAliveLost),
		errors.Is(err, ErrCircuitOpen):
		return KindTransient
	default:
		return KindUnknown
	}
}
