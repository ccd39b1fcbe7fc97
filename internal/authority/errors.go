package authority

import "errors"

var (
	ErrNotFound      = errors.New("authority: not found")
	ErrAlreadyExists = errors.New("authority: already exists")
	ErrInvalidInput  = errors.New("authority: invalid input")
	ErrAccessDenied  = errors.New("authority: access denied")
	ErrDisabled      = errors.New("authority: account is disabled")
	ErrSystemRole    = errors.New("authority: system role is immutable")
)
