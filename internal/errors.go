package internal

import (
	"golang.org/x/xerrors"
)

// ErrMissingUserID is returned when the configuration carries no user to
// subscribe to. The live core is disabled rather than surfaced to visitors.
var ErrMissingUserID = xerrors.New("No user id configured")

// ErrMissingInstance is returned when no presence instance URI is configured.
var ErrMissingInstance = xerrors.New("No presence instance configured")

// ErrMalformedSnapshot is returned by Normalize when a payload carries no
// user identity and cannot be rendered.
var ErrMalformedSnapshot = xerrors.New("Snapshot is missing user identity")

// ErrUpstream is returned when the presence API reports a failure.
var ErrUpstream = xerrors.New("Presence upstream reported an error")

// ErrSocketClosed is returned when sending on a closed push channel.
var ErrSocketClosed = xerrors.New("Push channel is closed")

// ErrSocketNotReady is returned when attempting to send before the hello
// frame has been received.
var ErrSocketNotReady = xerrors.New("Push channel has not received hello")

var (
	ErrReadConfigurationFailure = xerrors.New("Failed to read configuration")
	ErrLoadConfigurationFailure = xerrors.New("Failed to load configuration")
)

var (
	ErrIconNotFound     = xerrors.New("No icon found for game")
	ErrIconLookupNoKey  = xerrors.New("Icon lookup disabled: missing API key")
	ErrReviewsDisabled  = xerrors.New("Review feed is not configured")
	ErrTimezoneNotFound = xerrors.New("No timezone stored for user")
)
