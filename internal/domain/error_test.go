package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "full",
			err:  E(CodeNotFound, "store.get", `connection "conn-1"`, ErrConnectionNotFound),
			want: `store.get: NOT_FOUND: connection "conn-1"`,
		},
		{
			name: "message from cause",
			err:  E(CodeUnavailable, "session.connect", "", errors.New("connection refused")),
			want: "session.connect: UNAVAILABLE: connection refused",
		},
		{
			name: "no op",
			err:  &Error{Code: CodeInvalidArgument, Message: "orgId is required"},
			want: "INVALID_ARGUMENT: orgId is required",
		},
		{
			name: "code only",
			err:  &Error{Code: CodeInternal},
			want: "INTERNAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := E(CodeUnavailable, "session.connect", "", ErrSessionLimit)
	require.ErrorIs(t, err, ErrSessionLimit)

	wrapped := fmt.Errorf("probe: %w", err)
	var domainErr *Error
	require.ErrorAs(t, wrapped, &domainErr)
	require.Equal(t, CodeUnavailable, domainErr.Code)
}

func TestWrapKeepsExistingError(t *testing.T) {
	inner := E(CodeNotFound, "store.get", "connection", ErrConnectionNotFound)
	require.Same(t, inner, Wrap(CodeInternal, "gateway.get", inner))

	plain := errors.New("disk full")
	wrapped := Wrap(CodeInternal, "store.put", plain)
	require.Equal(t, CodeInternal, wrapped.Code)
	require.ErrorIs(t, wrapped, plain)

	require.Nil(t, Wrap(CodeInternal, "op", nil))
}

func TestWrapFillsMissingOp(t *testing.T) {
	inner := &Error{Code: CodeInvalidArgument, Message: "bad kind"}
	wrapped := Wrap(CodeInternal, "gateway.create", inner)
	require.Equal(t, "gateway.create", wrapped.Op)
	require.Equal(t, CodeInvalidArgument, wrapped.Code)
}

func TestCodeFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
		ok   bool
	}{
		{"domain error", E(CodeDeadlineExceeded, "session.connect", "", nil), CodeDeadlineExceeded, true},
		{"wrapped domain error", fmt.Errorf("outer: %w", E(CodeAlreadyExists, "store.put", "dup", nil)), CodeAlreadyExists, true},
		{"address sentinel", fmt.Errorf("policy: %w", ErrAddressDenied), CodeInvalidArgument, true},
		{"not found sentinel", ErrConnectionNotFound, CodeNotFound, true},
		{"template sentinel", ErrTemplateNotFound, CodeNotFound, true},
		{"duplicate sentinel", ErrDuplicateConnection, CodeAlreadyExists, true},
		{"session closed sentinel", ErrSessionClosed, CodeUnavailable, true},
		{"plain error", errors.New("boom"), "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := CodeFrom(tt.err)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, code)
		})
	}
}
